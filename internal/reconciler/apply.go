package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dcs-tools/domainguard/internal/audit"
	"github.com/dcs-tools/domainguard/internal/events"
	"github.com/dcs-tools/domainguard/internal/pending"
	"github.com/dcs-tools/domainguard/internal/pin"
	"github.com/dcs-tools/domainguard/internal/remote"
)

// RemoteClient is the subset of *remote.Client Apply depends on,
// narrowed to an interface so tests can inject a fake (spec §9's
// redesign note: "make the remote client an interface so a fake can be
// injected in tests").
type RemoteClient interface {
	AddDeny(ctx context.Context, domain string) error
	RemoveDeny(ctx context.Context, domain string) error
	AddAllow(ctx context.Context, domain string) error
	RemoveAllow(ctx context.Context, domain string) error
	SetCategory(ctx context.Context, categoryID string, active bool) error
	SetService(ctx context.Context, serviceID string, active bool) error
}

var _ RemoteClient = (*remote.Client)(nil)

// PendingStore is the subset of *pending.Store Apply depends on.
type PendingStore interface {
	Cancel(id string) (bool, error)
	MarkExecuted(id, outcome string, now time.Time) error
	GC(now time.Time) (int, error)
}

// PINGate is the subset of *pin.Gate Apply depends on, for executing
// due PIN-removal pending actions.
type PINGate interface {
	Remove() error
}

var _ PINGate = (*pin.Gate)(nil)

// Deps bundles the collaborators Apply needs to turn a Plan into
// actual mutations.
type Deps struct {
	Remote  RemoteClient
	Pending PendingStore
	PIN     PINGate
	Audit   *audit.Log
	Events  events.Sink
	DryRun  bool
}

// Result is the outcome of applying a Plan: the realized counters plus
// any per-item errors, none of which abort the tick (spec §4.6 step 6:
// "a per-item failure is logged, does not abort the tick").
type Result struct {
	Counters Counters
	Duration time.Duration
	Errors   *multierror.Error
}

// Apply executes plan in the deterministic cross-kind order spec §5
// requires: (a) denylist removals, (b) denylist additions, (c)
// allowlist removals, (d) allowlist additions, (e) native-PC toggles.
// Dry-run short-circuits this step only (spec §4.6's dry-run note);
// pending GC still runs.
func Apply(ctx context.Context, deps Deps, plan Plan, now time.Time) Result {
	start := time.Now()
	var res Result
	var errs *multierror.Error

	if !deps.DryRun {
		for _, domain := range plan.DenyRemovals {
			if err := deps.Remote.RemoveDeny(ctx, domain); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("remove deny %s: %w", domain, err))
				continue
			}
			res.Counters.Unblocked++
			deps.record(events.Unblock, domain, nil)
		}
		for _, domain := range plan.DenyAdditions {
			if err := deps.Remote.AddDeny(ctx, domain); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("add deny %s: %w", domain, err))
				continue
			}
			res.Counters.Blocked++
			deps.record(events.Block, domain, nil)
		}
		for _, domain := range plan.AllowRemovals {
			if err := deps.Remote.RemoveAllow(ctx, domain); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("remove allow %s: %w", domain, err))
				continue
			}
			res.Counters.Disallowed++
			deps.record(events.Disallow, domain, nil)
		}
		for _, domain := range plan.AllowAdditions {
			if err := deps.Remote.AddAllow(ctx, domain); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("add allow %s: %w", domain, err))
				continue
			}
			res.Counters.Allowed++
			deps.record(events.Allow, domain, nil)
		}
		for _, t := range plan.PCToggles {
			var err error
			if t.Category {
				err = deps.Remote.SetCategory(ctx, t.ID, t.Active)
			} else {
				err = deps.Remote.SetService(ctx, t.ID, t.Active)
			}
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("toggle pc %s: %w", t.ID, err))
				continue
			}
			if t.Active {
				res.Counters.PCActivated++
				deps.record(events.PCActivate, t.ID, nil)
			} else {
				res.Counters.PCDeactivated++
				deps.record(events.PCDeactivate, t.ID, nil)
			}
		}

		for _, pe := range plan.PendingExecutions {
			if err := applyPendingExecution(ctx, deps, pe, now); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("execute pending %s: %w", pe.Action.ID, err))
				continue
			}
			res.Counters.PendingExecuted++
		}
	}

	// Pending GC (step 7) and the tick summary (step 8) run even in
	// dry-run mode; only the mutation step itself is short-circuited.
	if _, err := deps.Pending.GC(now); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("pending gc: %w", err))
	}

	res.Errors = errs
	if errs != nil {
		res.Counters.Errors = len(errs.Errors)
	}
	res.Duration = time.Since(start)
	return res
}

func applyPendingExecution(ctx context.Context, deps Deps, pe PendingExecution, now time.Time) error {
	a := pe.Action
	switch a.Target.Kind {
	case pending.TargetDomain:
		if err := deps.Remote.RemoveDeny(ctx, a.Target.ID); err != nil {
			return err
		}
	case pending.TargetNativeCategory:
		if err := deps.Remote.SetCategory(ctx, a.Target.ID, false); err != nil {
			return err
		}
	case pending.TargetNativeService:
		if err := deps.Remote.SetService(ctx, a.Target.ID, false); err != nil {
			return err
		}
	case pending.TargetPINRemoval:
		if err := deps.PIN.Remove(); err != nil {
			return err
		}
	default:
		// TargetCategory (user-defined category) has no pending-unblock
		// creation path: the CLI only exposes `unblock <domain>`, never an
		// "unblock category" verb, so this kind can be constructed in the
		// type system but never actually enqueued. Fail loudly rather than
		// mark an unhandled action executed.
		return fmt.Errorf("pending action %s: unsupported target kind %q", a.ID, a.Target.Kind)
	}

	if err := deps.Pending.MarkExecuted(a.ID, "executed", now); err != nil {
		return err
	}

	verb := events.PendingExecute
	detail := map[string]string{"target": a.Target.ID}
	if pe.WouldReblock {
		detail["warning"] = "target is due to be re-blocked by schedule on the next tick"
	}
	deps.record(verb, a.Target.ID, detail)
	return nil
}

func (d Deps) record(verb events.Verb, object string, detail map[string]string) {
	ev := events.Event{Time: time.Now(), Verb: verb, Object: object, Detail: detail}
	if d.Audit != nil {
		d.Audit.Record(ev, false)
	}
	if d.Events != nil {
		d.Events.Publish(ev)
	}
}
