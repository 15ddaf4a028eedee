package watchdog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dcs-tools/domainguard/internal/fslock"
)

// disablePath is the marker file consulted at launch (spec §4.9:
// "disable writes a timestamp marker; the scheduled task at launch
// consults the marker and no-ops when disabled"). A zero expiration
// means disabled permanently until Enable is called explicitly.
func disablePath(stateDir string) string {
	return filepath.Join(stateDir, ".watchdog-disabled")
}

// Disable writes a disable marker. A zero duration disables
// permanently; otherwise the marker expires on its own after duration.
func Disable(stateDir string, duration time.Duration, now time.Time) error {
	path := disablePath(stateDir)
	lock, err := fslock.Exclusive(path)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	var until time.Time
	if duration > 0 {
		until = now.Add(duration)
	}
	return writeDisableMarker(path, until)
}

// Enable clears the disable marker.
func Enable(stateDir string) error {
	path := disablePath(stateDir)
	lock, err := fslock.Exclusive(path)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("watchdog: clearing disable marker: %w", err)
	}
	return nil
}

// Disabled reports whether the watchdog is currently disabled at now,
// and the expiration if the disable is time-bounded (zero time means
// permanent).
func Disabled(stateDir string, now time.Time) (disabled bool, until time.Time, err error) {
	path := disablePath(stateDir)
	lock, err := fslock.Shared(path)
	if err != nil {
		return false, time.Time{}, err
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("watchdog: reading disable marker: %w", err)
	}
	text := string(data)
	if text == "" {
		return true, time.Time{}, nil
	}
	until, err = time.Parse(time.RFC3339, text)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("watchdog: corrupt disable marker: %w", err)
	}
	if now.Before(until) {
		return true, until, nil
	}
	return false, time.Time{}, nil
}

func writeDisableMarker(path string, until time.Time) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".watchdog-disabled-*.tmp")
	if err != nil {
		return fmt.Errorf("watchdog: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var text string
	if !until.IsZero() {
		text = until.UTC().Format(time.RFC3339)
	}
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("watchdog: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("watchdog: fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("watchdog: closing temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}
