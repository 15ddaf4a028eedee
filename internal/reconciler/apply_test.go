package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dcs-tools/domainguard/internal/pending"
)

type fakeRemote struct {
	denyAdded, denyRemoved   []string
	allowAdded, allowRemoved []string
	categoryToggles          map[string]bool
	serviceToggles           map[string]bool
	failOn                   string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{categoryToggles: map[string]bool{}, serviceToggles: map[string]bool{}}
}

func (f *fakeRemote) AddDeny(ctx context.Context, domain string) error {
	if f.failOn == domain {
		return errors.New("simulated failure")
	}
	f.denyAdded = append(f.denyAdded, domain)
	return nil
}
func (f *fakeRemote) RemoveDeny(ctx context.Context, domain string) error {
	if f.failOn == domain {
		return errors.New("simulated failure")
	}
	f.denyRemoved = append(f.denyRemoved, domain)
	return nil
}
func (f *fakeRemote) AddAllow(ctx context.Context, domain string) error {
	f.allowAdded = append(f.allowAdded, domain)
	return nil
}
func (f *fakeRemote) RemoveAllow(ctx context.Context, domain string) error {
	f.allowRemoved = append(f.allowRemoved, domain)
	return nil
}
func (f *fakeRemote) SetCategory(ctx context.Context, id string, active bool) error {
	f.categoryToggles[id] = active
	return nil
}
func (f *fakeRemote) SetService(ctx context.Context, id string, active bool) error {
	f.serviceToggles[id] = active
	return nil
}

type fakePendingStore struct {
	executed map[string]string
	gcCalls  int
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{executed: map[string]string{}}
}
func (s *fakePendingStore) Cancel(id string) (bool, error) { return false, nil }
func (s *fakePendingStore) MarkExecuted(id, outcome string, now time.Time) error {
	s.executed[id] = outcome
	return nil
}
func (s *fakePendingStore) GC(now time.Time) (int, error) {
	s.gcCalls++
	return 0, nil
}

type fakePINGate struct{ removed bool }

func (g *fakePINGate) Remove() error { g.removed = true; return nil }

func TestApply_MutatesInDeterministicOrder(t *testing.T) {
	remote := newFakeRemote()
	ps := newFakePendingStore()
	plan := Plan{
		DenyRemovals:   []string{"old.com"},
		DenyAdditions:  []string{"new.com"},
		AllowRemovals:  []string{"oldallow.com"},
		AllowAdditions: []string{"newallow.com"},
		PCToggles:      []PCToggle{{Category: true, ID: "gambling", Active: true}},
	}
	deps := Deps{Remote: remote, Pending: ps}
	res := Apply(context.Background(), deps, plan, time.Now())

	if res.Counters.Unblocked != 1 || res.Counters.Blocked != 1 || res.Counters.Disallowed != 1 || res.Counters.Allowed != 1 || res.Counters.PCActivated != 1 {
		t.Fatalf("unexpected counters: %+v", res.Counters)
	}
	if len(remote.denyRemoved) != 1 || remote.denyRemoved[0] != "old.com" {
		t.Errorf("expected old.com removed from deny, got %+v", remote.denyRemoved)
	}
	if remote.categoryToggles["gambling"] != true {
		t.Error("expected gambling category to be activated")
	}
	if ps.gcCalls != 1 {
		t.Errorf("expected GC to run once, got %d", ps.gcCalls)
	}
}

func TestApply_PerItemFailureDoesNotAbortTick(t *testing.T) {
	remote := newFakeRemote()
	remote.failOn = "bad.com"
	ps := newFakePendingStore()
	plan := Plan{DenyAdditions: []string{"bad.com", "good.com"}}
	deps := Deps{Remote: remote, Pending: ps}
	res := Apply(context.Background(), deps, plan, time.Now())

	if res.Counters.Blocked != 1 {
		t.Fatalf("expected the surviving item to succeed, got %+v", res.Counters)
	}
	if res.Errors == nil || len(res.Errors.Errors) != 1 {
		t.Fatalf("expected exactly one recorded error, got %v", res.Errors)
	}
	if len(remote.denyAdded) != 1 || remote.denyAdded[0] != "good.com" {
		t.Errorf("expected good.com to still be added, got %+v", remote.denyAdded)
	}
}

func TestApply_DryRunSkipsMutationsButRunsGC(t *testing.T) {
	remote := newFakeRemote()
	ps := newFakePendingStore()
	plan := Plan{DenyAdditions: []string{"new.com"}}
	deps := Deps{Remote: remote, Pending: ps, DryRun: true}
	res := Apply(context.Background(), deps, plan, time.Now())

	if len(remote.denyAdded) != 0 {
		t.Errorf("expected dry-run to skip mutations, got %+v", remote.denyAdded)
	}
	if res.Counters.Blocked != 0 {
		t.Errorf("expected zero counters in dry-run, got %+v", res.Counters)
	}
	if ps.gcCalls != 1 {
		t.Error("expected GC to still run in dry-run mode")
	}
}

func TestApply_PendingExecutionMarksExecuted(t *testing.T) {
	remote := newFakeRemote()
	ps := newFakePendingStore()
	plan := Plan{
		PendingExecutions: []PendingExecution{{
			Action: pending.Action{ID: "pnd_1", Target: pending.Target{Kind: pending.TargetDomain, ID: "bumble.com"}},
		}},
	}
	deps := Deps{Remote: remote, Pending: ps}
	res := Apply(context.Background(), deps, plan, time.Now())

	if res.Counters.PendingExecuted != 1 {
		t.Fatalf("expected 1 pending execution, got %+v", res.Counters)
	}
	if ps.executed["pnd_1"] != "executed" {
		t.Errorf("expected pnd_1 to be marked executed, got %v", ps.executed)
	}
	if len(remote.denyRemoved) != 1 || remote.denyRemoved[0] != "bumble.com" {
		t.Errorf("expected bumble.com removed from deny, got %+v", remote.denyRemoved)
	}
}

func TestApply_PINRemovalExecution(t *testing.T) {
	remote := newFakeRemote()
	ps := newFakePendingStore()
	pinGate := &fakePINGate{}
	plan := Plan{
		PendingExecutions: []PendingExecution{{
			Action: pending.Action{ID: "pnd_pin", Target: pending.Target{Kind: pending.TargetPINRemoval, ID: "pin"}},
		}},
	}
	deps := Deps{Remote: remote, Pending: ps, PIN: pinGate}
	res := Apply(context.Background(), deps, plan, time.Now())

	if res.Counters.PendingExecuted != 1 {
		t.Fatalf("expected the PIN removal to execute, got %+v", res.Counters)
	}
	if !pinGate.removed {
		t.Error("expected the PIN gate to have been cleared")
	}
}
