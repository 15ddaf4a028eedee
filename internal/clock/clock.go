// Package clock implements the availability evaluator (spec component
// C1): deciding whether a managed domain is "available" (i.e. not due
// to be blocked) at a given instant, in a given IANA timezone, against
// a weekly schedule of weekday + time-range rules.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Weekday is the lowercase full English weekday name used throughout
// policy schedules ("monday", not "Mon" or 1).
type Weekday string

const (
	Sunday    Weekday = "sunday"
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
)

var weekdayOrder = map[time.Weekday]Weekday{
	time.Sunday:    Sunday,
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
}

// TimeRange is one `{start, end}` window in `HH:MM` form, already
// parsed to minutes-since-midnight for fast comparison.
type TimeRange struct {
	StartMinute int
	EndMinute   int
}

// Overnight reports whether this range wraps past midnight (end < start).
// Equal start/end is not overnight: it is the empty window that matches
// no minute of the day.
func (r TimeRange) Overnight() bool {
	return r.EndMinute < r.StartMinute
}

// Rule is one availability rule: a set of weekdays paired with an
// ordered list of time ranges, all of which apply on any matching day.
type Rule struct {
	Weekdays map[Weekday]bool
	Ranges   []TimeRange
}

// Schedule is a non-empty ordered sequence of availability rules.
type Schedule struct {
	Rules []Rule
}

// ParseHHMM parses an "HH:MM" 24-hour string into minutes-since-midnight.
// "24:00" is rejected (validation-time only; it never denotes a valid
// instant), "00:00" is accepted.
func ParseHHMM(s string) (int, error) {
	var h, m int
	n, err := fmt.Sscanf(s, "%d:%d", &h, &m)
	if err != nil || n != 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return h*60 + m, nil
}

var locCache sync.Map // zone name -> *time.Location

// loadLocation resolves an IANA zone name against the runtime tz
// database, memoized per name since the reconciler resolves the same
// handful of zones on every tick.
func loadLocation(zone string) (*time.Location, error) {
	if v, ok := locCache.Load(zone); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	locCache.Store(zone, loc)
	return loc, nil
}

// ValidZone reports whether zone resolves against the tz database.
func ValidZone(zone string) bool {
	_, err := loadLocation(zone)
	return err == nil
}

// IsAvailable decides whether schedule permits instant in zone. A nil
// schedule is rejected by the caller (spec §3: the meaning of "no
// schedule" is list-dependent, not a property of this pure function) -
// IsAvailable itself always requires a non-nil schedule argument.
func IsAvailable(schedule *Schedule, instant time.Time, zone string) (bool, error) {
	if schedule == nil {
		return false, fmt.Errorf("clock: IsAvailable called with nil schedule")
	}
	loc, err := loadLocation(zone)
	if err != nil {
		return false, err
	}

	local := instant.In(loc)
	minute := local.Hour()*60 + local.Minute()
	today := weekdayOrder[local.Weekday()]
	yesterdayIdx := (int(local.Weekday()) + 6) % 7
	yesterday := weekdayOrder[time.Weekday(yesterdayIdx)]

	for _, rule := range schedule.Rules {
		todayMatches := rule.Weekdays[today]
		yesterdayMatches := rule.Weekdays[yesterday]

		for _, r := range rule.Ranges {
			if !r.Overnight() {
				if todayMatches && minute >= r.StartMinute && minute < r.EndMinute {
					return true, nil
				}
				continue
			}
			// Overnight range: matches either the tail end of a window
			// that began yesterday, or the head of a window that began
			// today and continues past midnight.
			if todayMatches && minute >= r.StartMinute {
				return true, nil
			}
			if yesterdayMatches && minute < r.EndMinute {
				return true, nil
			}
		}
	}
	return false, nil
}

// AvailableForBlocklist applies spec §3's polarity for blocklist-type
// entries: a null schedule means "never available" (i.e. always block).
func AvailableForBlocklist(schedule *Schedule, instant time.Time, zone string) (bool, error) {
	if schedule == nil {
		return false, nil
	}
	return IsAvailable(schedule, instant, zone)
}

// AvailableForAllowlist applies spec §3's polarity for allowlist-type
// entries: a null schedule means "always available".
func AvailableForAllowlist(schedule *Schedule, instant time.Time, zone string) (bool, error) {
	if schedule == nil {
		return true, nil
	}
	return IsAvailable(schedule, instant, zone)
}
