package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dcs-tools/domainguard/internal/events"
)

func TestRecord_WritesLineFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	l := Open(path, nil)

	ev := events.Event{
		Time:   time.Date(2024, 1, 15, 19, 30, 0, 0, time.UTC),
		Verb:   events.Block,
		Object: "reddit.com",
		Detail: map[string]string{"reason": "schedule"},
	}
	if err := l.Record(ev, false); err != nil {
		t.Fatalf("Record: %v", err)
	}

	lines, err := Tail(path, 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %v", len(lines), lines)
	}
	want := "2024-01-15T19:30:00Z | BLOCK | reddit.com | reason=schedule"
	if lines[0] != want {
		t.Errorf("got %q, want %q", lines[0], want)
	}
}

func TestRecord_WatchdogPrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	l := Open(path, nil)

	ev := events.Event{
		Time:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Verb:   events.Sync,
		Object: "watchdog",
	}
	if err := l.Record(ev, true); err != nil {
		t.Fatalf("Record: %v", err)
	}
	lines, err := Tail(path, 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	want := "2024-01-01T00:00:00Z | WD | SYNC | watchdog"
	if lines[0] != want {
		t.Errorf("got %q, want %q", lines[0], want)
	}
}

func TestTail_LimitsLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	l := Open(path, nil)

	for i := 0; i < 5; i++ {
		ev := events.Event{Time: time.Now(), Verb: events.Block, Object: "x.com"}
		if err := l.Record(ev, false); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	lines, err := Tail(path, 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestTail_MissingFile(t *testing.T) {
	lines, err := Tail(filepath.Join(t.TempDir(), "absent.log"), 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if lines != nil {
		t.Errorf("expected nil for a missing file, got %v", lines)
	}
}
