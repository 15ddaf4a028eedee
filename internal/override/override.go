// Package override implements the panic/pause override layer (spec
// component C5): two sibling timed, process-wide gates that mask
// normal reconciliation decisions. Each is backed by a single marker
// file holding an ISO-8601 expiration instant, written via the
// write-temp+fsync+rename discipline spec §3 invariant 6 requires.
package override

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dcs-tools/domainguard/internal/fslock"
)

// MinPanicDuration is the minimum window spec §3/§4.5 requires for a
// new panic activation.
const MinPanicDuration = 15 * time.Minute

// Store manages the pause and panic marker files in a state directory.
type Store struct {
	pausePath string
	panicPath string
}

// New returns a Store rooted at stateDir, matching the `.paused` /
// `.panic` file names from spec §6.
func New(stateDir string) *Store {
	return &Store{
		pausePath: filepath.Join(stateDir, ".paused"),
		panicPath: filepath.Join(stateDir, ".panic"),
	}
}

func readMarker(path string) (time.Time, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("override: reading %s: %w", path, err)
	}
	t, err := time.Parse(time.RFC3339, string(trimNewline(data)))
	if err != nil {
		return time.Time{}, false, &StateCorruptionError{Path: path, Cause: err}
	}
	return t, true, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func writeMarker(path string, expiration time.Time) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".override-*.tmp")
	if err != nil {
		return fmt.Errorf("override: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(expiration.UTC().Format(time.RFC3339)); err != nil {
		tmp.Close()
		return fmt.Errorf("override: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("override: fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("override: closing temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}

// StateCorruptionError is the taxonomy entry (spec §7) for an
// unparseable override marker.
type StateCorruptionError struct {
	Path  string
	Cause error
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("override: corrupt marker %s: %v", e.Path, e.Cause)
}
func (e *StateCorruptionError) Unwrap() error { return e.Cause }

// PauseStatus reports whether pause is active at now, and its
// expiration if so.
func (s *Store) PauseStatus(now time.Time) (active bool, until time.Time, err error) {
	lock, err := fslock.Shared(s.pausePath)
	if err != nil {
		return false, time.Time{}, err
	}
	defer lock.Unlock()

	exp, exists, err := readMarker(s.pausePath)
	if err != nil || !exists {
		return false, time.Time{}, err
	}
	return now.Before(exp), exp, nil
}

// BeginPause starts (or restarts) a pause for duration from now.
// Pauses do not stack (spec §4.5): any existing pause expiration is
// replaced outright, never extended.
func (s *Store) BeginPause(duration time.Duration, now time.Time) error {
	if duration <= 0 {
		return fmt.Errorf("override: pause duration must be positive")
	}
	lock, err := fslock.Exclusive(s.pausePath)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return writeMarker(s.pausePath, now.Add(duration))
}

// EndPause clears the pause record.
func (s *Store) EndPause() error {
	lock, err := fslock.Exclusive(s.pausePath)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	if err := os.Remove(s.pausePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("override: clearing pause marker: %w", err)
	}
	return nil
}

// PanicStatus reports whether panic is active at now, and its
// expiration if so.
func (s *Store) PanicStatus(now time.Time) (active bool, until time.Time, err error) {
	lock, err := fslock.Shared(s.panicPath)
	if err != nil {
		return false, time.Time{}, err
	}
	defer lock.Unlock()

	exp, exists, err := readMarker(s.panicPath)
	if err != nil || !exists {
		return false, time.Time{}, err
	}
	return now.Before(exp), exp, nil
}

// PanicActiveError reports the panic expiration so a refused command
// (spec §4.5, §7's OverrideViolation) can tell the operator when panic
// will end.
type PanicActiveError struct {
	Until time.Time
}

func (e *PanicActiveError) Error() string {
	return fmt.Sprintf("panic active until %s", e.Until.UTC().Format(time.RFC3339))
}

// BeginPanic starts a new panic window. duration must be at least
// MinPanicDuration (spec §3/§4.5). If panic is already active, this
// fails with a *PanicActiveError -- callers that want to lengthen an
// active panic must call ExtendPanic instead (there is no implicit stacking
// or automatic extension).
func (s *Store) BeginPanic(duration time.Duration, now time.Time) error {
	if duration < MinPanicDuration {
		return fmt.Errorf("override: panic duration must be at least %s", MinPanicDuration)
	}
	lock, err := fslock.Exclusive(s.panicPath)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	exp, exists, err := readMarker(s.panicPath)
	if err != nil {
		return err
	}
	if exists && now.Before(exp) {
		return &PanicActiveError{Until: exp}
	}
	return writeMarker(s.panicPath, now.Add(duration))
}

// ExtendPanic adds delta (which must be positive) to the current panic
// expiration. There is no maximum (spec §4.5) and no upper bound check
// here beyond delta > 0; it is an error to extend a panic that is not
// currently active.
func (s *Store) ExtendPanic(delta time.Duration, now time.Time) error {
	if delta <= 0 {
		return fmt.Errorf("override: extend delta must be positive")
	}
	lock, err := fslock.Exclusive(s.panicPath)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	exp, exists, err := readMarker(s.panicPath)
	if err != nil {
		return err
	}
	if !exists || !now.Before(exp) {
		return fmt.Errorf("override: panic is not active, use BeginPanic instead")
	}
	return writeMarker(s.panicPath, exp.Add(delta))
}

// Note: panic has no End(). Spec §3/§4.5: "There is no end(). The
// record clears only upon expiration." Early deletion of the marker
// file is possible at the filesystem level but is not a supported
// operation of this package.
