//go:build !windows

package fslock

import (
	"path/filepath"
	"testing"
)

func TestTryExclusive_Contention(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pending.json")

	l1, ok, err := TryExclusive(path)
	if err != nil || !ok {
		t.Fatalf("first TryExclusive: ok=%v err=%v", ok, err)
	}
	defer l1.Unlock()

	l2, ok, err := TryExclusive(path)
	if err != nil {
		t.Fatalf("second TryExclusive: unexpected error %v", err)
	}
	if ok {
		t.Fatal("second TryExclusive should not succeed while first lock is held")
		l2.Unlock()
	}
}

func TestExclusiveThenShared(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	l, err := Exclusive(path)
	if err != nil {
		t.Fatalf("Exclusive: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	s, err := Shared(path)
	if err != nil {
		t.Fatalf("Shared after release: %v", err)
	}
	if err := s.Unlock(); err != nil {
		t.Fatalf("Unlock shared: %v", err)
	}
}
