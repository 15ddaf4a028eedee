package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSummaryStore_PutAndLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.db")
	s, err := OpenSummaryStore(path, 10)
	if err != nil {
		t.Fatalf("OpenSummaryStore: %v", err)
	}
	defer s.Close()

	first := TickSummary{RunToken: "a", StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Additions: 1}
	second := TickSummary{RunToken: "b", StartedAt: time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC), Additions: 2}
	if err := s.Put(first); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	latest, ok, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !ok || latest.RunToken != "b" {
		t.Fatalf("expected latest to be run b, got %+v", latest)
	}
}

func TestSummaryStore_EvictsOldest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.db")
	s, err := OpenSummaryStore(path, 2)
	if err != nil {
		t.Fatalf("OpenSummaryStore: %v", err)
	}
	defer s.Close()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sum := TickSummary{RunToken: string(rune('a' + i)), StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.Put(sum); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	recent, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected eviction to retain only 2 summaries, got %d", len(recent))
	}
	if recent[0].RunToken != "e" || recent[1].RunToken != "d" {
		t.Fatalf("expected newest-first [e d], got %+v", recent)
	}
}
