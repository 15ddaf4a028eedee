package pin

import (
	"testing"
	"time"
)

func newGate(t *testing.T) *Gate {
	t.Helper()
	return New(t.TempDir())
}

func TestSet_ThenVerify(t *testing.T) {
	g := newGate(t)
	if err := g.Set("1234"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	now := time.Now()
	if err := g.Verify("1234", now); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	active, err := g.SessionActive(now.Add(10 * time.Minute))
	if err != nil {
		t.Fatalf("SessionActive: %v", err)
	}
	if !active {
		t.Error("expected session to be active within the 30-minute window")
	}
}

func TestSession_ExpiresAfter30Minutes(t *testing.T) {
	g := newGate(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := g.Set("1234"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := g.Verify("1234", now); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	active, err := g.SessionActive(now.Add(31 * time.Minute))
	if err != nil {
		t.Fatalf("SessionActive: %v", err)
	}
	if active {
		t.Error("expected session to have expired after 30 minutes")
	}
}

func TestVerify_WrongPINFails(t *testing.T) {
	g := newGate(t)
	if err := g.Set("1234"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := g.Verify("0000", time.Now()); err == nil {
		t.Fatal("expected an incorrect PIN to fail")
	}
}

func TestVerify_LockoutAfterThreeFailures(t *testing.T) {
	g := newGate(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := g.Set("1234"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := g.Verify("0000", now.Add(time.Duration(i)*time.Minute)); err == nil {
			t.Fatal("expected incorrect PIN to fail")
		}
	}
	err := g.Verify("1234", now.Add(3*time.Minute))
	if err == nil {
		t.Fatal("expected lockout to refuse even a correct PIN")
	}
	var le *LockoutError
	if !asLockoutError(err, &le) {
		t.Fatalf("expected *LockoutError, got %v (%T)", err, err)
	}

	if err := g.Verify("1234", now.Add(3*time.Minute+16*time.Minute)); err != nil {
		t.Fatalf("expected lockout to clear after 15 minutes: %v", err)
	}
}

func asLockoutError(err error, target **LockoutError) bool {
	if le, ok := err.(*LockoutError); ok {
		*target = le
		return true
	}
	return false
}

func TestRequireSession_NoOpWhenUnset(t *testing.T) {
	g := newGate(t)
	if err := g.RequireSession(time.Now()); err != nil {
		t.Fatalf("expected no-op gate when no PIN is configured: %v", err)
	}
}

func TestRequireSession_FailsWithoutSession(t *testing.T) {
	g := newGate(t)
	if err := g.Set("1234"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := g.RequireSession(time.Now()); err == nil {
		t.Fatal("expected RequireSession to fail without an established session")
	}
}

func TestRemove_ClearsHash(t *testing.T) {
	g := newGate(t)
	if err := g.Set("1234"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := g.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	set, err := g.IsSet()
	if err != nil {
		t.Fatalf("IsSet: %v", err)
	}
	if set {
		t.Error("expected PIN to be cleared")
	}
}
