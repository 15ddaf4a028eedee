package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/dcs-tools/domainguard/internal/audit"
	"github.com/dcs-tools/domainguard/internal/events"
	"github.com/dcs-tools/domainguard/internal/fslock"
	"github.com/dcs-tools/domainguard/internal/override"
	"github.com/dcs-tools/domainguard/internal/pending"
	"github.com/dcs-tools/domainguard/internal/policy"
)

// SkippedError is returned when a tick could not acquire the run-token
// lock because another process is already reconciling (spec §5: the
// losing process "exits cleanly with exit code 0 and an audit note").
// Callers should treat this as success, not failure.
type SkippedError struct{}

func (SkippedError) Error() string { return "reconciler: another tick is already running" }

// TickConfig bundles everything a full tick needs beyond the Deps
// Apply already requires.
type TickConfig struct {
	Policy    *policy.Snapshot
	Overrides *override.Store
	Pending   interface {
		PendingStore
		List(includeHistory bool) ([]pending.Action, error)
	}
	Remote interface {
		RemoteClient
		GetDenylist(ctx context.Context) ([]string, error)
		GetAllowlist(ctx context.Context) ([]string, error)
		ListPCCategories(ctx context.Context) (map[string]bool, error)
		ListPCServices(ctx context.Context) (map[string]bool, error)
	}
	Zone         string
	RunTokenPath string
	Deps         Deps
}

// RunTick executes one full reconciliation pass: acquires the
// single-flight run-token lock, loads inputs, computes the plan, and
// applies it. It implements spec §4.6 end to end and the single-flight
// scheduling model of §5.
func RunTick(ctx context.Context, cfg TickConfig, now time.Time) (Plan, Result, error) {
	lock, ok, err := fslock.TryExclusive(cfg.RunTokenPath)
	if err != nil {
		return Plan{}, Result{}, fmt.Errorf("reconciler: acquiring run token: %w", err)
	}
	if !ok {
		if cfg.Deps.Audit != nil {
			cfg.Deps.Audit.Record(events.Event{
				Time:   now,
				Verb:   events.Sync,
				Object: "tick",
				Detail: map[string]string{"skipped": "run token held"},
			}, false)
		}
		return Plan{}, Result{}, SkippedError{}
	}
	defer lock.Unlock()

	panicActive, _, err := cfg.Overrides.PanicStatus(now)
	if err != nil {
		return Plan{}, Result{}, fmt.Errorf("reconciler: reading panic status: %w", err)
	}
	pauseActive, _, err := cfg.Overrides.PauseStatus(now)
	if err != nil {
		return Plan{}, Result{}, fmt.Errorf("reconciler: reading pause status: %w", err)
	}

	pendingActions, err := cfg.Pending.List(false)
	if err != nil {
		return Plan{}, Result{}, fmt.Errorf("reconciler: listing pending actions: %w", err)
	}

	remoteDeny, err := cfg.Remote.GetDenylist(ctx)
	if err != nil {
		return Plan{}, Result{}, fmt.Errorf("reconciler: fetching denylist: %w", err)
	}
	remoteAllow, err := cfg.Remote.GetAllowlist(ctx)
	if err != nil {
		return Plan{}, Result{}, fmt.Errorf("reconciler: fetching allowlist: %w", err)
	}
	pcCategories, err := cfg.Remote.ListPCCategories(ctx)
	if err != nil {
		return Plan{}, Result{}, fmt.Errorf("reconciler: fetching pc categories: %w", err)
	}
	pcServices, err := cfg.Remote.ListPCServices(ctx)
	if err != nil {
		return Plan{}, Result{}, fmt.Errorf("reconciler: fetching pc services: %w", err)
	}

	in := Inputs{
		Now:             now,
		Zone:            cfg.Zone,
		Policy:          cfg.Policy,
		PanicActive:     panicActive,
		PauseActive:     pauseActive,
		Pending:         pendingActions,
		RemoteDeny:      remoteDeny,
		RemoteAllow:     remoteAllow,
		PCCategoryState: pcCategories,
		PCServiceState:  pcServices,
	}

	plan := ComputePlan(in)

	for _, c := range plan.ConfigConflicts {
		if cfg.Deps.Audit != nil {
			cfg.Deps.Audit.Record(events.Event{
				Time:   now,
				Verb:   events.Sync,
				Object: c.Domain,
				Detail: map[string]string{"conflict": c.Reason},
			}, false)
		}
	}

	result := Apply(ctx, cfg.Deps, plan, now)
	return plan, result, nil
}
