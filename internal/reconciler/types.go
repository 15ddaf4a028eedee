// Package reconciler implements the central reconciliation algorithm
// (component C6): a pure function from a tick's inputs to a mutation
// plan, and a separate apply step that executes that plan against the
// remote client, the pending store, and the audit log. Splitting Plan
// from Apply means the decision procedure -- the part every invariant
// in this system is really about -- can be unit-tested without any
// fake HTTP server.
package reconciler

import (
	"time"

	"github.com/dcs-tools/domainguard/internal/pending"
	"github.com/dcs-tools/domainguard/internal/policy"
)

// Inputs bundles everything step 1 of the algorithm loads: the policy
// snapshot, override state, non-terminal pending actions (ComputePlan
// picks out the due ones), and the cached remote state. ComputePlan
// touches none of these through I/O -- the caller gathers them first.
type Inputs struct {
	Now  time.Time
	Zone string

	Policy *policy.Snapshot

	PanicActive bool
	PauseActive bool

	Pending []pending.Action

	RemoteDeny  []string
	RemoteAllow []string

	// PCCategoryState and PCServiceState hold the remote state of every
	// native category/service the profile reports; the plan consults
	// only the ids configured under `nextdns` and never claims
	// ownership of native categories/services the policy doesn't
	// mention.
	PCCategoryState map[string]bool
	PCServiceState  map[string]bool
}

// PCToggle is one native parental-control mutation.
type PCToggle struct {
	Category bool // true for a category id, false for a service id
	ID       string
	Active   bool
}

// PendingExecution is one due pending action the plan has decided to
// execute this tick, annotated with whether its target would otherwise
// be re-blocked by the very same tick's schedule evaluation (spec
// §4.6 step 4: the unblock still happens; a warning event fires and
// the next tick re-blocks per schedule).
type PendingExecution struct {
	Action       pending.Action
	WouldReblock bool
}

// ConfigConflict records a domain that validation should have
// prevented from appearing in both the block and allow directions;
// spec §4.6 step 3 treats this as a configuration error for the tick,
// not a reason to abort the whole tick.
type ConfigConflict struct {
	Domain string
	Reason string
}

// Plan is the complete, deterministic mutation plan for one tick.
// Every slice is already in the lexical order spec §5 requires.
type Plan struct {
	DenyRemovals   []string
	DenyAdditions  []string
	AllowRemovals  []string
	AllowAdditions []string
	PCToggles      []PCToggle

	PendingExecutions []PendingExecution
	ConfigConflicts   []ConfigConflict

	// DesiredBlock and DesiredAllow are exposed for callers (e.g.
	// `status`) that want the computed desired sets without re-running
	// the algorithm; Apply does not consult them directly.
	DesiredBlock map[string]bool
	DesiredAllow map[string]bool
}

// Counters summarizes a Plan (or, after Apply, a Result) the way
// spec §4.6 step 8's tick summary requires.
type Counters struct {
	Blocked         int
	Unblocked       int
	Allowed         int
	Disallowed      int
	PCActivated     int
	PCDeactivated   int
	PendingExecuted int
	Errors          int
}

// Count derives summary counters from the plan shape alone (pre-apply;
// Errors is always 0 here since nothing has been attempted yet).
func (p Plan) Count() Counters {
	var c Counters
	c.Blocked = len(p.DenyAdditions)
	c.Unblocked = len(p.DenyRemovals)
	c.Allowed = len(p.AllowAdditions)
	c.Disallowed = len(p.AllowRemovals)
	for _, t := range p.PCToggles {
		if t.Active {
			c.PCActivated++
		} else {
			c.PCDeactivated++
		}
	}
	c.PendingExecuted = len(p.PendingExecutions)
	return c
}
