package clock

import (
	"testing"
	"time"
)

func mustRange(t *testing.T, start, end string) TimeRange {
	t.Helper()
	s, err := ParseHHMM(start)
	if err != nil {
		t.Fatalf("parsing start %q: %v", start, err)
	}
	e, err := ParseHHMM(end)
	if err != nil {
		t.Fatalf("parsing end %q: %v", end, err)
	}
	return TimeRange{StartMinute: s, EndMinute: e}
}

func allWeekdaysRule(ranges ...TimeRange) Rule {
	return Rule{
		Weekdays: map[Weekday]bool{
			Sunday: true, Monday: true, Tuesday: true, Wednesday: true,
			Thursday: true, Friday: true, Saturday: true,
		},
		Ranges: ranges,
	}
}

func TestIsAvailable_NilSchedule(t *testing.T) {
	if _, err := IsAvailable(nil, time.Now(), "UTC"); err == nil {
		t.Fatal("expected error for nil schedule")
	}
}

func TestAvailableForBlocklist_NullMeansNeverAvailable(t *testing.T) {
	ok, err := AvailableForBlocklist(nil, time.Now(), "UTC")
	if err != nil || ok {
		t.Fatalf("blocklist null schedule: got (%v, %v), want (false, nil)", ok, err)
	}
}

func TestAvailableForAllowlist_NullMeansAlwaysAvailable(t *testing.T) {
	ok, err := AvailableForAllowlist(nil, time.Now(), "UTC")
	if err != nil || !ok {
		t.Fatalf("allowlist null schedule: got (%v, %v), want (true, nil)", ok, err)
	}
}

// Invariant #2 from spec §8: a universal 00:00-23:59 rule is available
// at every instant in the zone.
func TestIsAvailable_UniversalRule(t *testing.T) {
	sched := &Schedule{Rules: []Rule{allWeekdaysRule(mustRange(t, "00:00", "23:59"))}}
	for h := 0; h < 24; h++ {
		instant := time.Date(2024, 1, 15, h, 30, 0, 0, time.UTC)
		ok, err := IsAvailable(sched, instant, "UTC")
		if err != nil || !ok {
			t.Fatalf("hour %d: got (%v, %v), want (true, nil)", h, ok, err)
		}
	}
}

func TestIsAvailable_EmptyWindow(t *testing.T) {
	sched := &Schedule{Rules: []Rule{allWeekdaysRule(mustRange(t, "00:00", "00:00"))}}
	ok, err := IsAvailable(sched, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), "UTC")
	if err != nil || ok {
		t.Fatalf("empty window should never match, got (%v, %v)", ok, err)
	}
}

func TestIsAvailable_Overnight(t *testing.T) {
	// Monday 22:00-02:00.
	sched := &Schedule{Rules: []Rule{{
		Weekdays: map[Weekday]bool{Monday: true},
		Ranges:   []TimeRange{mustRange(t, "22:00", "02:00")},
	}}}

	monday2230 := time.Date(2024, 1, 15, 22, 30, 0, 0, time.UTC) // Monday
	tuesday0130 := time.Date(2024, 1, 16, 1, 30, 0, 0, time.UTC) // Tuesday
	tuesday0200 := time.Date(2024, 1, 16, 2, 0, 0, 0, time.UTC)  // Tuesday, boundary excluded

	if ok, err := IsAvailable(sched, monday2230, "UTC"); err != nil || !ok {
		t.Errorf("Monday 22:30 should match overnight range, got (%v, %v)", ok, err)
	}
	if ok, err := IsAvailable(sched, tuesday0130, "UTC"); err != nil || !ok {
		t.Errorf("Tuesday 01:30 should match overnight range carried from Monday, got (%v, %v)", ok, err)
	}
	if ok, err := IsAvailable(sched, tuesday0200, "UTC"); err != nil || ok {
		t.Errorf("Tuesday 02:00 should NOT match (end exclusive), got (%v, %v)", ok, err)
	}
}

func TestIsAvailable_WeekdayScoped(t *testing.T) {
	sched := &Schedule{Rules: []Rule{{
		Weekdays: map[Weekday]bool{Monday: true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true},
		Ranges: []TimeRange{
			mustRange(t, "12:00", "13:00"),
			mustRange(t, "18:00", "22:00"),
		},
	}}}

	// S1 seed scenario instant: weekday 14:30 is outside both ranges.
	weekday1430 := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC) // Monday
	if ok, _ := IsAvailable(sched, weekday1430, "UTC"); ok {
		t.Error("14:30 should be outside both ranges (domain should be blocked)")
	}

	weekday1230 := time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC)
	if ok, _ := IsAvailable(sched, weekday1230, "UTC"); !ok {
		t.Error("12:30 should be inside the midday range")
	}

	saturday := time.Date(2024, 1, 13, 12, 30, 0, 0, time.UTC)
	if ok, _ := IsAvailable(sched, saturday, "UTC"); ok {
		t.Error("Saturday should not match a Mon-Fri rule")
	}
}

func TestParseHHMM_Rejects2400(t *testing.T) {
	if _, err := ParseHHMM("24:00"); err == nil {
		t.Error("expected 24:00 to be rejected")
	}
	if _, err := ParseHHMM("00:00"); err != nil {
		t.Errorf("expected 00:00 to be accepted, got %v", err)
	}
}

func TestValidZone(t *testing.T) {
	if !ValidZone("America/New_York") {
		t.Error("America/New_York should resolve")
	}
	if ValidZone("Not/AZone") {
		t.Error("Not/AZone should not resolve")
	}
}
