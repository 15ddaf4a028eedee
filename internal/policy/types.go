// Package policy implements the policy model (spec component C3): it
// parses the operator's JSON configuration file into a validated,
// immutable snapshot that the reconciler reads once per tick.
package policy

import (
	"encoding/json"

	"github.com/dcs-tools/domainguard/internal/clock"
)

// ScheduleDoc is the wire shape of a schedule: an array of
// `{days, time_ranges}` availability rules.
type ScheduleDoc struct {
	AvailableHours []RuleDoc `json:"available_hours"`
}

// RuleDoc is one wire-format availability rule.
type RuleDoc struct {
	Days       []string   `json:"days"`
	TimeRanges []RangeDoc `json:"time_ranges"`
}

// RangeDoc is one wire-format `{start, end}` time range.
type RangeDoc struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DomainDoc is the wire shape of a blocklist/allowlist/category member
// domain entry.
type DomainDoc struct {
	Domain       string       `json:"domain"`
	Description  string       `json:"description,omitempty"`
	UnblockDelay string       `json:"unblock_delay,omitempty"`
	Schedule     *ScheduleDoc `json:"schedule,omitempty"`
	Locked       bool         `json:"locked,omitempty"`
}

// CategoryDoc is a user-defined category grouping.
type CategoryDoc struct {
	ID           string   `json:"id"`
	Domains      []string `json:"domains"`
	UnblockDelay string   `json:"unblock_delay,omitempty"`
	Schedule     *ScheduleDoc `json:"schedule,omitempty"`
}

// NativeEntryDoc configures one native category or service.
type NativeEntryDoc struct {
	ID           string       `json:"id"`
	Schedule     *ScheduleDoc `json:"schedule,omitempty"`
	UnblockDelay string       `json:"unblock_delay,omitempty"`
	Locked       bool         `json:"locked,omitempty"`
}

// NativeDoc is the optional `nextdns` block: native category/service
// configuration plus the three global parental-control flags.
type NativeDoc struct {
	Categories      []NativeEntryDoc `json:"categories,omitempty"`
	Services        []NativeEntryDoc `json:"services,omitempty"`
	ForceSafeSearch bool             `json:"force_safesearch,omitempty"`
	YouTubeRestrict bool             `json:"youtube_restricted,omitempty"`
	BlockBypass     bool             `json:"block_bypass,omitempty"`
}

// SettingsDoc is the `settings` block.
type SettingsDoc struct {
	Timezone string `json:"timezone"`
	Editor   string `json:"editor,omitempty"`
}

// ProtectionDoc is the optional `protection` block.
type ProtectionDoc struct {
	UnlockDelayHours int `json:"unlock_delay_hours,omitempty"`
}

// Doc is the top-level JSON policy document, as read straight off disk
// before validation.
type Doc struct {
	Version       string          `json:"version"`
	Settings      SettingsDoc     `json:"settings"`
	Notifications json.RawMessage `json:"notifications,omitempty"`
	Blocklist     []DomainDoc     `json:"blocklist"`
	Allowlist     []DomainDoc     `json:"allowlist"`
	Categories    []CategoryDoc   `json:"categories,omitempty"`
	NextDNS       *NativeDoc      `json:"nextdns,omitempty"`
	Protection    *ProtectionDoc  `json:"protection,omitempty"`
}

// Domain is a validated domain entry with its schedule already compiled
// to the clock package's evaluation form.
type Domain struct {
	Name         string
	Description  string
	UnblockDelay string
	Schedule     *clock.Schedule
	Locked       bool
}

// Category is a validated user-defined category.
type Category struct {
	ID           string
	Domains      []string
	UnblockDelay string
	Schedule     *clock.Schedule
}

// NativeEntry is a validated native category/service configuration.
type NativeEntry struct {
	ID           string
	Schedule     *clock.Schedule
	UnblockDelay string
	Locked       bool
}

// Settings is the validated settings block.
type Settings struct {
	Timezone string
	Editor   string
}

// Protection is the validated protection block, with its default of 48h
// and minimum of 24h applied.
type Protection struct {
	UnlockDelayHours int
}

// Snapshot is the immutable, validated policy in force for one tick. A
// Snapshot is never mutated after construction; a policy edit produces
// a brand-new Snapshot value (spec §4.3).
type Snapshot struct {
	Version    string
	Settings   Settings
	Blocklist       []Domain
	Allowlist       []Domain
	Categories      []Category
	NativeCategories map[string]NativeEntry // native categories, keyed by id
	NativeServices   map[string]NativeEntry // native services, keyed by id
	ForceSafeSearch bool
	YouTubeRestrict bool
	BlockBypass     bool
	Protection      Protection

	// Warnings accumulated during validation that do not reject the
	// snapshot (e.g. subdomain relationships across blocklist/allowlist).
	Warnings []string
}

// DomainByName looks up a blocklist, allowlist, or user-category member
// by normalized name (a category member carries its category's delay
// and schedule); ok is false if no such entry exists.
func (s *Snapshot) DomainByName(name string) (Domain, bool) {
	for _, d := range s.Blocklist {
		if d.Name == name {
			return d, true
		}
	}
	for _, d := range s.Allowlist {
		if d.Name == name {
			return d, true
		}
	}
	for _, c := range s.Categories {
		for _, m := range c.Domains {
			if m == name {
				return Domain{Name: name, UnblockDelay: c.UnblockDelay, Schedule: c.Schedule}, true
			}
		}
	}
	return Domain{}, false
}
