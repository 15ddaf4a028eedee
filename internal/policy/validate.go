package policy

import (
	"fmt"
	"strings"

	"github.com/dcs-tools/domainguard/internal/clock"
	"github.com/dcs-tools/domainguard/internal/domainutil"
)

// ConfigError is the taxonomy entry (spec §7) for a policy document
// that fails validation. Building a Snapshot never mutates the prior
// good snapshot; the caller is expected to keep using it.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

var recognizedVersions = map[string]bool{"1": true, "1.0": true}

var weekdayNames = map[string]clock.Weekday{
	"sunday":    clock.Sunday,
	"monday":    clock.Monday,
	"tuesday":   clock.Tuesday,
	"wednesday": clock.Wednesday,
	"thursday":  clock.Thursday,
	"friday":    clock.Friday,
	"saturday":  clock.Saturday,
}

func compileSchedule(doc *ScheduleDoc) (*clock.Schedule, error) {
	if doc == nil {
		return nil, nil
	}
	if len(doc.AvailableHours) == 0 {
		return nil, configErrorf("schedule must have at least one rule")
	}

	sched := &clock.Schedule{}
	for _, ruleDoc := range doc.AvailableHours {
		if len(ruleDoc.Days) == 0 {
			return nil, configErrorf("schedule rule has no days")
		}
		weekdays := make(map[clock.Weekday]bool, len(ruleDoc.Days))
		for _, d := range ruleDoc.Days {
			wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(d))]
			if !ok {
				return nil, configErrorf("unknown weekday %q", d)
			}
			weekdays[wd] = true
		}

		if len(ruleDoc.TimeRanges) == 0 {
			return nil, configErrorf("schedule rule has no time ranges")
		}
		ranges := make([]clock.TimeRange, 0, len(ruleDoc.TimeRanges))
		for _, rg := range ruleDoc.TimeRanges {
			start, err := clock.ParseHHMM(rg.Start)
			if err != nil {
				return nil, configErrorf("invalid range start: %v", err)
			}
			end, err := clock.ParseHHMM(rg.End)
			if err != nil {
				return nil, configErrorf("invalid range end: %v", err)
			}
			ranges = append(ranges, clock.TimeRange{StartMinute: start, EndMinute: end})
		}

		sched.Rules = append(sched.Rules, clock.Rule{Weekdays: weekdays, Ranges: ranges})
	}
	return sched, nil
}

func compileDomain(doc DomainDoc) (Domain, error) {
	name := domainutil.Normalize(doc.Domain)
	if !domainutil.ValidDomain(name) {
		return Domain{}, configErrorf("invalid domain %q", doc.Domain)
	}

	delay := doc.UnblockDelay
	if delay == "" {
		delay = "0"
	}
	if _, err := domainutil.ParseUnblockDelay(delay); err != nil {
		return Domain{}, configErrorf("domain %s: %v", name, err)
	}

	sched, err := compileSchedule(doc.Schedule)
	if err != nil {
		return Domain{}, configErrorf("domain %s: %v", name, err)
	}

	return Domain{
		Name:         name,
		Description:  doc.Description,
		UnblockDelay: delay,
		Schedule:     sched,
		Locked:       doc.Locked,
	}, nil
}

// Validate compiles and validates a raw Doc into an immutable Snapshot.
// Any validation failure returns a *ConfigError and a nil Snapshot; the
// caller keeps the previous good snapshot in force (spec §4.3).
func Validate(doc *Doc) (*Snapshot, error) {
	if !recognizedVersions[doc.Version] {
		return nil, configErrorf("unrecognized policy version %q", doc.Version)
	}
	if doc.Settings.Timezone == "" {
		return nil, configErrorf("settings.timezone is required")
	}
	if !clock.ValidZone(doc.Settings.Timezone) {
		return nil, configErrorf("unresolvable timezone %q", doc.Settings.Timezone)
	}

	snap := &Snapshot{
		Version:          doc.Version,
		Settings:         Settings{Timezone: doc.Settings.Timezone, Editor: doc.Settings.Editor},
		NativeCategories: map[string]NativeEntry{},
		NativeServices:   map[string]NativeEntry{},
	}

	seen := map[string]string{} // domain -> which list it came from

	for _, d := range doc.Blocklist {
		dom, err := compileDomain(d)
		if err != nil {
			return nil, err
		}
		if other, ok := seen[dom.Name]; ok && other != "blocklist" {
			return nil, configErrorf("domain %s appears in both blocklist and %s", dom.Name, other)
		}
		seen[dom.Name] = "blocklist"
		snap.Blocklist = append(snap.Blocklist, dom)
	}

	for _, d := range doc.Allowlist {
		dom, err := compileDomain(d)
		if err != nil {
			return nil, err
		}
		if other, ok := seen[dom.Name]; ok && other != "allowlist" {
			return nil, configErrorf("domain %s appears in both %s and allowlist", dom.Name, other)
		}
		seen[dom.Name] = "allowlist"
		snap.Allowlist = append(snap.Allowlist, dom)
	}

	snap.Warnings = append(snap.Warnings, detectSubdomainOverlaps(snap.Blocklist, snap.Allowlist)...)

	categoryIDs := map[string]bool{}
	categoryMember := map[string]string{} // domain -> category id
	for _, c := range doc.Categories {
		if !domainutil.ValidCategoryID(c.ID) {
			return nil, configErrorf("invalid category id %q", c.ID)
		}
		if categoryIDs[c.ID] {
			return nil, configErrorf("duplicate category id %q", c.ID)
		}
		categoryIDs[c.ID] = true

		delay := c.UnblockDelay
		if delay == "" {
			delay = "0"
		}
		if _, err := domainutil.ParseUnblockDelay(delay); err != nil {
			return nil, configErrorf("category %s: %v", c.ID, err)
		}
		sched, err := compileSchedule(c.Schedule)
		if err != nil {
			return nil, configErrorf("category %s: %v", c.ID, err)
		}

		members := make([]string, 0, len(c.Domains))
		for _, raw := range c.Domains {
			name := domainutil.Normalize(raw)
			if !domainutil.ValidDomain(name) {
				return nil, configErrorf("category %s: invalid domain %q", c.ID, raw)
			}
			if owner, ok := categoryMember[name]; ok {
				return nil, configErrorf("domain %s is a member of more than one category (%s, %s)", name, owner, c.ID)
			}
			categoryMember[name] = c.ID
			members = append(members, name)
		}

		snap.Categories = append(snap.Categories, Category{
			ID:           c.ID,
			Domains:      members,
			UnblockDelay: delay,
			Schedule:     sched,
		})
	}

	if doc.NextDNS != nil {
		for _, entry := range doc.NextDNS.Categories {
			if !IsNativeCategory(entry.ID) {
				return nil, configErrorf("unknown native category %q", entry.ID)
			}
			ne, err := compileNativeEntry(entry)
			if err != nil {
				return nil, err
			}
			snap.NativeCategories[entry.ID] = ne
		}
		for _, entry := range doc.NextDNS.Services {
			if !IsNativeService(entry.ID) {
				return nil, configErrorf("unknown native service %q", entry.ID)
			}
			ne, err := compileNativeEntry(entry)
			if err != nil {
				return nil, err
			}
			snap.NativeServices[entry.ID] = ne
		}
		snap.ForceSafeSearch = doc.NextDNS.ForceSafeSearch
		snap.YouTubeRestrict = doc.NextDNS.YouTubeRestrict
		snap.BlockBypass = doc.NextDNS.BlockBypass
	}

	snap.Protection = Protection{UnlockDelayHours: 48}
	if doc.Protection != nil && doc.Protection.UnlockDelayHours != 0 {
		if doc.Protection.UnlockDelayHours < 24 {
			return nil, configErrorf("protection.unlock_delay_hours must be >= 24")
		}
		snap.Protection.UnlockDelayHours = doc.Protection.UnlockDelayHours
	}

	return snap, nil
}

func compileNativeEntry(doc NativeEntryDoc) (NativeEntry, error) {
	delay := doc.UnblockDelay
	if delay == "" {
		delay = "0"
	}
	if _, err := domainutil.ParseUnblockDelay(delay); err != nil {
		return NativeEntry{}, configErrorf("native entry %s: %v", doc.ID, err)
	}
	sched, err := compileSchedule(doc.Schedule)
	if err != nil {
		return NativeEntry{}, configErrorf("native entry %s: %v", doc.ID, err)
	}
	return NativeEntry{ID: doc.ID, Schedule: sched, UnblockDelay: delay, Locked: doc.Locked}, nil
}

// detectSubdomainOverlaps implements spec §3's "subdomain relationships
// ... are legal and generate a warning, not an error": a parent domain
// in one list with a child (strict subdomain) in the other.
func detectSubdomainOverlaps(blocklist, allowlist []Domain) []string {
	var warnings []string
	for _, b := range blocklist {
		for _, a := range allowlist {
			if a.Name == b.Name {
				continue // exact match is rejected earlier, not a warning
			}
			if isStrictSubdomain(a.Name, b.Name) {
				warnings = append(warnings, fmt.Sprintf("allowlist entry %s is a subdomain of blocklist entry %s", a.Name, b.Name))
			}
			if isStrictSubdomain(b.Name, a.Name) {
				warnings = append(warnings, fmt.Sprintf("blocklist entry %s is a subdomain of allowlist entry %s", b.Name, a.Name))
			}
		}
	}
	return warnings
}

func isStrictSubdomain(child, parent string) bool {
	return strings.HasSuffix(child, "."+parent) && child != parent
}
