package reconciler

import (
	"sort"

	"github.com/dcs-tools/domainguard/internal/clock"
	"github.com/dcs-tools/domainguard/internal/pending"
)

// ComputePlan implements spec §4.6 steps 2-5: desired-set computation,
// conflict detection, pending-action selection, and the diff against
// cached remote state. It is a pure function of in -- no clock calls,
// no I/O -- so identical inputs always produce an identical plan
// (spec §8 invariant #3).
func ComputePlan(in Inputs) Plan {
	desiredBlock := map[string]bool{}
	desiredAllow := map[string]bool{}

	for _, d := range in.Policy.Blocklist {
		desiredBlock[d.Name] = blockedState(in, d.Schedule)
	}
	for _, cat := range in.Policy.Categories {
		blocked := blockedState(in, cat.Schedule)
		for _, member := range cat.Domains {
			desiredBlock[member] = blocked
		}
	}
	for _, d := range in.Policy.Allowlist {
		if in.PanicActive {
			desiredAllow[d.Name] = false
			continue
		}
		desiredAllow[d.Name] = availableState(d.Schedule, in, true)
	}

	conflicts := detectConflicts(desiredBlock, desiredAllow)

	pcDesired := map[string]PCToggle{}
	for id, entry := range in.Policy.NativeCategories {
		pcDesired[categoryKey(id)] = PCToggle{Category: true, ID: id, Active: blockedState(in, entry.Schedule)}
	}
	for id, entry := range in.Policy.NativeServices {
		pcDesired[serviceKey(id)] = PCToggle{Category: false, ID: id, Active: blockedState(in, entry.Schedule)}
	}

	pendingExecs := selectPendingExecutions(in, desiredBlock)

	p := Plan{
		DesiredBlock:    desiredBlock,
		DesiredAllow:    desiredAllow,
		ConfigConflicts: conflicts,
	}
	p.PendingExecutions = pendingExecs

	remoteDenySet := toSet(in.RemoteDeny)
	remoteAllowSet := toSet(in.RemoteAllow)

	toAddDeny, toRemoveDeny := diffSets(desiredBlock, remoteDenySet, conflictSet(conflicts))
	if in.PauseActive && !in.PanicActive {
		toAddDeny = nil
	}
	toAddAllow, toRemoveAllow := diffSets(desiredAllow, remoteAllowSet, conflictSet(conflicts))

	p.DenyAdditions = sortedSlice(toAddDeny)
	p.DenyRemovals = sortedSlice(toRemoveDeny)
	p.AllowAdditions = sortedSlice(toAddAllow)
	p.AllowRemovals = sortedSlice(toRemoveAllow)
	p.PCToggles = diffPCToggles(pcDesired, in.PCCategoryState, in.PCServiceState)

	return p
}

// blockedState evaluates the blocklist-direction schedule semantics
// shared by blocklist entries, category members, and native
// categories/services: panic forces "blocked", a null schedule means
// never available (also "blocked"), otherwise unavailability means
// "blocked".
func blockedState(in Inputs, schedule *clock.Schedule) bool {
	if in.PanicActive {
		return true
	}
	return !availableState(schedule, in, false)
}

// availableState evaluates isAvailable with the direction-appropriate
// null-schedule default; a clock error (an unresolvable zone that
// slipped past validation) is treated conservatively -- blocked for
// the block direction, not-allowed for the allow direction -- rather
// than panicking the whole tick over one bad entry.
func availableState(schedule *clock.Schedule, in Inputs, allowDirection bool) bool {
	var avail bool
	var err error
	if allowDirection {
		avail, err = clock.AvailableForAllowlist(schedule, in.Now, in.Zone)
	} else {
		avail, err = clock.AvailableForBlocklist(schedule, in.Now, in.Zone)
	}
	if err != nil {
		return false
	}
	return avail
}

func categoryKey(id string) string { return "category:" + id }
func serviceKey(id string) string  { return "service:" + id }

// detectConflicts implements spec §4.6 step 3: a domain that is
// simultaneously desired-blocked and desired-allowed is a
// configuration error for the tick. Validation should already prevent
// exact-match cross-list duplication, so this only fires for an
// internal inconsistency, not ordinary operator configuration.
func detectConflicts(block, allow map[string]bool) []ConfigConflict {
	var conflicts []ConfigConflict
	for name, blocked := range block {
		if !blocked {
			continue
		}
		if allowed, ok := allow[name]; ok && allowed {
			conflicts = append(conflicts, ConfigConflict{
				Domain: name,
				Reason: "domain is desired in both the block and allow directions",
			})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Domain < conflicts[j].Domain })
	return conflicts
}

func conflictSet(conflicts []ConfigConflict) map[string]bool {
	s := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		s[c.Domain] = true
	}
	return s
}

// selectPendingExecutions implements spec §4.6 step 4. Panic defers
// every pending action without advancing its record. Outside panic,
// every due action executes regardless of whether its target would be
// re-blocked this same tick; WouldReblock only controls whether a
// warning event accompanies the execution.
func selectPendingExecutions(in Inputs, desiredBlock map[string]bool) []PendingExecution {
	if in.PanicActive {
		return nil
	}
	var execs []PendingExecution
	for _, a := range in.Pending {
		if a.Status != pending.StatusPending {
			continue
		}
		if a.ExecuteAt.After(in.Now) {
			continue
		}
		wouldReblock := a.Target.Kind == pending.TargetDomain && desiredBlock[a.Target.ID]
		execs = append(execs, PendingExecution{Action: a, WouldReblock: wouldReblock})
	}
	sort.Slice(execs, func(i, j int) bool { return execs[i].Action.ID < execs[j].Action.ID })
	return execs
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}

// diffSets computes toAdd = desired\current and toRemove =
// current\desired, per spec §4.6 step 5. This is a fully authoritative
// diff: an entry present on the remote list but absent from desired
// (because the operator removed it from policy, not because it is
// merely out of schedule) is removed too, excluding anything flagged
// as a configuration conflict.
func diffSets(desired map[string]bool, current map[string]bool, conflicted map[string]bool) (toAdd, toRemove map[string]bool) {
	toAdd = map[string]bool{}
	toRemove = map[string]bool{}
	for name := range union(desired, current) {
		if conflicted[name] {
			continue
		}
		want := desired[name]
		have := current[name]
		if want && !have {
			toAdd[name] = true
		}
		if !want && have {
			toRemove[name] = true
		}
	}
	return toAdd, toRemove
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func sortedSlice(s map[string]bool) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func diffPCToggles(desired map[string]PCToggle, categoryState, serviceState map[string]bool) []PCToggle {
	var toggles []PCToggle
	for _, t := range desired {
		var current bool
		var known bool
		if t.Category {
			current, known = categoryState[t.ID]
		} else {
			current, known = serviceState[t.ID]
		}
		if known && current == t.Active {
			continue
		}
		toggles = append(toggles, t)
	}
	sort.Slice(toggles, func(i, j int) bool {
		if toggles[i].Category != toggles[j].Category {
			return toggles[i].Category
		}
		return toggles[i].ID < toggles[j].ID
	})
	return toggles
}
