package pending

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dcs-tools/domainguard/internal/fslock"
)

// Store is a file-backed queue of pending actions. All reads take a
// shared flock on the store's companion lock file; all writes take an
// exclusive flock for the duration of the read-modify-write cycle, so
// a watchdog-scheduled tick and an operator-issued command never
// interleave (spec §4.4, §5).
type Store struct {
	path string
}

// Open returns a Store backed by the JSON file at path. The file is
// created empty on first write if it does not yet exist; Open itself
// performs no I/O.
func Open(path string) *Store {
	return &Store{path: path}
}

func (s *Store) readLocked() (document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return document{}, nil
	}
	if err != nil {
		return document{}, fmt.Errorf("pending: reading %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return document{}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, &CorruptionError{Path: s.path, Cause: err}
	}
	return doc, nil
}

func (s *Store) writeLocked(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("pending: marshaling: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".pending-*.tmp")
	if err != nil {
		return fmt.Errorf("pending: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("pending: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("pending: fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pending: closing temp file: %w", err)
	}
	return os.Rename(tmpName, s.path)
}

// CorruptionError is the StateCorruption taxonomy entry (spec §7) for
// an unparseable pending file. The caller is expected to quarantine
// the file (rename with a `.bak.<timestamp>` suffix) and start fresh.
type CorruptionError struct {
	Path  string
	Cause error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("pending: corrupt store %s: %v", e.Path, e.Cause)
}
func (e *CorruptionError) Unwrap() error { return e.Cause }

// Quarantine renames a corrupt store file aside with a
// `.bak.<unix-nano>` suffix and leaves the store ready to start empty.
func (s *Store) Quarantine(now time.Time) error {
	backup := fmt.Sprintf("%s.bak.%d", s.path, now.UnixNano())
	if err := os.Rename(s.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pending: quarantining %s: %w", s.path, err)
	}
	return nil
}

// Create creates a new pending action, enforcing spec §3 invariant 3
// (no two pending actions share a target). delay is the raw
// unblock_delay string, used only for display; the caller computes
// execAt and passes it in so the store stays time-source agnostic (the
// reconciler owns "now").
func (s *Store) Create(target Target, delay string, now time.Time, execAt time.Time, kind string) (*Action, error) {
	lock, err := fslock.Exclusive(s.path)
	if err != nil {
		return nil, fmt.Errorf("pending: acquiring exclusive lock: %w", err)
	}
	defer lock.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}

	for _, a := range doc.Actions {
		if a.Status == StatusPending && a.Target == target {
			return nil, fmt.Errorf("pending: target %s/%s already has a pending action (%s)", target.Kind, target.ID, a.ID)
		}
	}

	var id string
	for attempt := 0; attempt < maxIDCollisionRetries; attempt++ {
		candidate, err := generateID(now)
		if err != nil {
			return nil, err
		}
		collides := false
		for _, a := range doc.Actions {
			if a.ID == candidate {
				collides = true
				break
			}
		}
		if !collides {
			id = candidate
			break
		}
	}
	if id == "" {
		return nil, fmt.Errorf("pending: could not generate a unique id after %d attempts", maxIDCollisionRetries)
	}

	action := Action{
		ID:        id,
		Target:    target,
		Kind:      kind,
		CreatedAt: now,
		ExecuteAt: execAt,
		Delay:     delay,
		Status:    StatusPending,
	}
	doc.Actions = append(doc.Actions, action)

	if err := s.writeLocked(doc); err != nil {
		return nil, err
	}
	return &action, nil
}

// Cancel transitions a pending action to cancelled. It is a no-op that
// returns false (not an error) if the action is absent or already in a
// terminal state (spec §8 invariant 8).
func (s *Store) Cancel(id string) (bool, error) {
	lock, err := fslock.Exclusive(s.path)
	if err != nil {
		return false, fmt.Errorf("pending: acquiring exclusive lock: %w", err)
	}
	defer lock.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return false, err
	}

	for i, a := range doc.Actions {
		if a.ID == id {
			if a.Status != StatusPending {
				return false, nil
			}
			doc.Actions[i].Status = StatusCancelled
			return true, s.writeLocked(doc)
		}
	}
	return false, nil
}

// List returns every action, or only non-terminal ones when
// includeHistory is false.
func (s *Store) List(includeHistory bool) ([]Action, error) {
	lock, err := fslock.Shared(s.path)
	if err != nil {
		return nil, fmt.Errorf("pending: acquiring shared lock: %w", err)
	}
	defer lock.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}

	if includeHistory {
		return doc.Actions, nil
	}
	var out []Action
	for _, a := range doc.Actions {
		if a.Status == StatusPending {
			out = append(out, a)
		}
	}
	return out, nil
}

// DueActions returns every pending action whose execute_at has passed.
// Spec §3 invariant 4: an action whose time has passed while panic is
// active stays pending (its time is preserved) -- DueActions only
// reports candidates; whether they are actually executed this tick is
// the reconciler's decision, not the store's.
func (s *Store) DueActions(now time.Time) ([]Action, error) {
	all, err := s.List(false)
	if err != nil {
		return nil, err
	}
	var due []Action
	for _, a := range all {
		if !now.Before(a.ExecuteAt) {
			due = append(due, a)
		}
	}
	return due, nil
}

// MarkExecuted transitions a pending action to executed with an
// outcome detail string.
func (s *Store) MarkExecuted(id string, outcome string, now time.Time) error {
	lock, err := fslock.Exclusive(s.path)
	if err != nil {
		return fmt.Errorf("pending: acquiring exclusive lock: %w", err)
	}
	defer lock.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return err
	}

	for i, a := range doc.Actions {
		if a.ID == id {
			doc.Actions[i].Status = StatusExecuted
			doc.Actions[i].Outcome = outcome
			t := now
			doc.Actions[i].ExecutedAt = &t
			return s.writeLocked(doc)
		}
	}
	return fmt.Errorf("pending: no such action %s", id)
}

// GC removes actions in a terminal state older than 7 days (spec
// §4.4's cleanup rule).
func (s *Store) GC(now time.Time) (int, error) {
	lock, err := fslock.Exclusive(s.path)
	if err != nil {
		return 0, fmt.Errorf("pending: acquiring exclusive lock: %w", err)
	}
	defer lock.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return 0, err
	}

	const retention = 7 * 24 * time.Hour
	kept := doc.Actions[:0]
	removed := 0
	for _, a := range doc.Actions {
		if a.Status != StatusPending {
			ref := a.ExecuteAt
			if a.ExecutedAt != nil {
				ref = *a.ExecutedAt
			}
			if now.Sub(ref) > retention {
				removed++
				continue
			}
		}
		kept = append(kept, a)
	}
	if removed == 0 {
		return 0, nil
	}
	doc.Actions = kept
	return removed, s.writeLocked(doc)
}
