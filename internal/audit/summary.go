package audit

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var summaryBucket = []byte("tick_summaries")

// TickSummary is one condensed record of a reconciliation pass (the A4
// expansion): enough to answer `status` without parsing the audit
// file, but not a replacement for it -- the audit log remains the
// durable, line-oriented record spec §4.7 describes.
type TickSummary struct {
	RunToken    string    `json:"run_token"`
	StartedAt   time.Time `json:"started_at"`
	Duration    string    `json:"duration"`
	Additions   int       `json:"additions"`
	Removals    int       `json:"removals"`
	Failures    int       `json:"failures"`
	DryRun      bool      `json:"dry_run"`
	PanicActive bool      `json:"panic_active"`
	PauseActive bool      `json:"pause_active"`
}

// SummaryStore persists TickSummary rows in a small embedded database,
// keyed by start time followed by run token, retaining the most recent N.
type SummaryStore struct {
	db   *bolt.DB
	keep int
}

// OpenSummaryStore opens (creating if absent) a bbolt database at path,
// retaining at most keep summaries.
func OpenSummaryStore(path string, keep int) (*SummaryStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("audit: opening summary store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(summaryBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: initializing summary bucket: %w", err)
	}
	if keep <= 0 {
		keep = 100
	}
	return &SummaryStore{db: db, keep: keep}, nil
}

// Close releases the underlying database file.
func (s *SummaryStore) Close() error {
	return s.db.Close()
}

// Put records a tick summary, evicting the oldest entries beyond keep.
func (s *SummaryStore) Put(sum TickSummary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("audit: encoding summary: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(summaryBucket)
		key := []byte(sum.StartedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00") + "_" + sum.RunToken)
		if err := b.Put(key, data); err != nil {
			return err
		}
		return evictOldest(b, s.keep)
	})
}

func evictOldest(b *bolt.Bucket, keep int) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	if len(keys) <= keep {
		return nil
	}
	for _, k := range keys[:len(keys)-keep] {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the most recently written summary, if any.
func (s *SummaryStore) Latest() (TickSummary, bool, error) {
	var sum TickSummary
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(summaryBucket).Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &sum)
	})
	return sum, found, err
}

// Recent returns up to n most recent summaries, newest first.
func (s *SummaryStore) Recent(n int) ([]TickSummary, error) {
	var out []TickSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(summaryBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var sum TickSummary
			if err := json.Unmarshal(v, &sum); err != nil {
				return err
			}
			out = append(out, sum)
		}
		return nil
	})
	return out, err
}
