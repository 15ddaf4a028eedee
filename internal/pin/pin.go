// Package pin implements the PIN / Protection Gate (component C8): an
// optional, short-session authentication layer guarding a handful of
// sensitive operator operations. State lives in three small files
// under the state directory (`.pin_hash`, `.pin_session`,
// `.pin_attempts`), each rewritten whole on every change via the
// write-temp+fsync+rename discipline the rest of the module uses.
package pin

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dcs-tools/domainguard/internal/fslock"
)

// Iterations is the minimum PBKDF2-SHA256 iteration count spec §3/§4.8
// requires.
const Iterations = 600_000

const (
	saltLen    = 16
	keyLen     = 32
	sessionTTL = 30 * time.Minute

	maxFailures   = 3
	failureWindow = 15 * time.Minute
	lockoutWindow = 15 * time.Minute
)

type hashRecord struct {
	Salt string `json:"salt"`
	Hash string `json:"hash"`
}

type sessionRecord struct {
	ExpiresAt time.Time `json:"expires_at"`
}

type attemptsRecord struct {
	Failures    []time.Time `json:"failures"`
	LockedUntil *time.Time  `json:"locked_until,omitempty"`
}

// Gate manages the PIN hash, session, and failed-attempt state.
type Gate struct {
	hashPath     string
	sessionPath  string
	attemptsPath string
}

// New returns a Gate rooted at stateDir.
func New(stateDir string) *Gate {
	return &Gate{
		hashPath:     filepath.Join(stateDir, ".pin_hash"),
		sessionPath:  filepath.Join(stateDir, ".pin_session"),
		attemptsPath: filepath.Join(stateDir, ".pin_attempts"),
	}
}

// StateCorruptionError is the taxonomy entry (spec §7) for an
// unparseable PIN state file.
type StateCorruptionError struct {
	Path  string
	Cause error
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("pin: corrupt state file %s: %v", e.Path, e.Cause)
}
func (e *StateCorruptionError) Unwrap() error { return e.Cause }

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("pin: encoding %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pin-*.tmp")
	if err != nil {
		return fmt.Errorf("pin: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("pin: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("pin: fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pin: closing temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}

func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pin: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &StateCorruptionError{Path: path, Cause: err}
	}
	return true, nil
}

func deriveHash(pin string, salt []byte) []byte {
	return pbkdf2.Key([]byte(pin), salt, Iterations, keyLen, sha256.New)
}

// IsSet reports whether a PIN has been configured.
func (g *Gate) IsSet() (bool, error) {
	lock, err := fslock.Shared(g.hashPath)
	if err != nil {
		return false, err
	}
	defer lock.Unlock()
	var rec hashRecord
	ok, err := readJSON(g.hashPath, &rec)
	return ok, err
}

// Set stores a new PIN, replacing any existing one. The plaintext PIN
// is never persisted or logged, only its salted PBKDF2 hash.
func (g *Gate) Set(pin string) error {
	if pin == "" {
		return fmt.Errorf("pin: pin must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("pin: generating salt: %w", err)
	}
	hash := deriveHash(pin, salt)

	lock, err := fslock.Exclusive(g.hashPath)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	return writeJSON(g.hashPath, hashRecord{
		Salt: hex.EncodeToString(salt),
		Hash: hex.EncodeToString(hash),
	})
}

// Remove deletes the PIN hash and any active session outright. Callers
// implementing the 24-hour PIN-removal pending action invoke this only
// once that delay has elapsed; Gate itself has no notion of delay.
func (g *Gate) Remove() error {
	lock, err := fslock.Exclusive(g.hashPath)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	if err := os.Remove(g.hashPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pin: removing hash: %w", err)
	}
	if err := os.Remove(g.sessionPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pin: removing session: %w", err)
	}
	return nil
}

// LockoutError reports that the gate is in lockout until Until.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("pin: locked out until %s", e.Until.UTC().Format(time.RFC3339))
}

// Verify checks pin against the stored hash at now, establishing a
// session on success. It enforces the 3-failures/15-minute lockout
// window (spec §4.8).
func (g *Gate) Verify(pin string, now time.Time) error {
	attemptsLock, err := fslock.Exclusive(g.attemptsPath)
	if err != nil {
		return err
	}
	defer attemptsLock.Unlock()

	var attempts attemptsRecord
	if _, err := readJSON(g.attemptsPath, &attempts); err != nil {
		return err
	}
	if attempts.LockedUntil != nil && now.Before(*attempts.LockedUntil) {
		return &LockoutError{Until: *attempts.LockedUntil}
	}

	var rec hashRecord
	ok, err := func() (bool, error) {
		lock, err := fslock.Shared(g.hashPath)
		if err != nil {
			return false, err
		}
		defer lock.Unlock()
		return readJSON(g.hashPath, &rec)
	}()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pin: no PIN is configured")
	}

	salt, err := hex.DecodeString(rec.Salt)
	if err != nil {
		return &StateCorruptionError{Path: g.hashPath, Cause: err}
	}
	want, err := hex.DecodeString(rec.Hash)
	if err != nil {
		return &StateCorruptionError{Path: g.hashPath, Cause: err}
	}
	got := deriveHash(pin, salt)

	if subtle.ConstantTimeCompare(got, want) == 1 {
		attempts.Failures = nil
		attempts.LockedUntil = nil
		if err := writeJSON(g.attemptsPath, attempts); err != nil {
			return err
		}
		return g.startSession(now)
	}

	attempts.Failures = pruneFailures(attempts.Failures, now)
	attempts.Failures = append(attempts.Failures, now)
	if len(attempts.Failures) >= maxFailures {
		until := now.Add(lockoutWindow)
		attempts.LockedUntil = &until
		attempts.Failures = nil
	}
	if err := writeJSON(g.attemptsPath, attempts); err != nil {
		return err
	}
	return fmt.Errorf("pin: incorrect PIN")
}

func pruneFailures(failures []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-failureWindow)
	kept := failures[:0]
	for _, f := range failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	return kept
}

func (g *Gate) startSession(now time.Time) error {
	lock, err := fslock.Exclusive(g.sessionPath)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return writeJSON(g.sessionPath, sessionRecord{ExpiresAt: now.Add(sessionTTL)})
}

// SessionActive reports whether a valid session exists at now.
func (g *Gate) SessionActive(now time.Time) (bool, error) {
	lock, err := fslock.Shared(g.sessionPath)
	if err != nil {
		return false, err
	}
	defer lock.Unlock()

	var rec sessionRecord
	ok, err := readJSON(g.sessionPath, &rec)
	if err != nil || !ok {
		return false, err
	}
	return now.Before(rec.ExpiresAt), nil
}

// RequireSession returns nil if a session is active or no PIN is
// configured at all (the gate is a no-op when unset); otherwise it
// returns an error describing why the caller is refused.
func (g *Gate) RequireSession(now time.Time) error {
	set, err := g.IsSet()
	if err != nil {
		return err
	}
	if !set {
		return nil
	}
	active, err := g.SessionActive(now)
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("pin: a valid session is required, call verify first")
	}
	return nil
}
