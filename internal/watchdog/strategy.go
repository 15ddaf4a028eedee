// Package watchdog implements the self-healing periodic invoker (spec
// component C9): a platform-scheduled task that fires a reconciler
// tick on a fixed cadence and re-registers itself if the host
// scheduler's entry ever goes missing. The watchdog itself is
// platform-neutral; each host scheduler is a Strategy implementation
// selected once at startup.
package watchdog

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// TickInterval is the cadence at which the installed task invokes a
// reconciler tick.
const TickInterval = 120 * time.Second

// SelfHealInterval is the self-heal cadence. No strategy registers a
// task at this interval; Watchdog.SelfHeal runs only when called.
const SelfHealInterval = 300 * time.Second

// Strategy is one host scheduler's registration mechanism. Exactly one
// Strategy is active per machine, chosen by Detect.
type Strategy interface {
	// Name identifies the strategy for status output and logging.
	Name() string
	// Install registers binaryPath to run on TickInterval, replacing
	// any existing registration.
	Install(binaryPath string) error
	// Uninstall removes the registration. It is not an error to call
	// Uninstall when nothing is registered.
	Uninstall() error
	// Registered reports whether the host scheduler currently has the
	// registration in place, used by Watchdog.SelfHeal.
	Registered() (bool, error)
	// NextRun reports the next time the scheduled task is expected to
	// fire; ok is false if the strategy cannot determine it.
	NextRun(now time.Time) (next time.Time, ok bool)
}

// Detect selects the Strategy for the current host, following spec
// §4.9/REDESIGN FLAGS: launchd on macOS, systemd user-timer when
// `/run/systemd/system` exists, crontab fallback on Linux otherwise,
// Task Scheduler on Windows, and cron forced on WSL regardless of
// systemd's presence.
func Detect() Strategy {
	switch runtime.GOOS {
	case "darwin":
		return NewLaunchdStrategy()
	case "windows":
		return NewTaskSchedulerStrategy()
	case "linux":
		if isWSL() {
			return NewCrontabStrategy()
		}
		if hasSystemd() {
			return NewSystemdStrategy()
		}
		return NewCrontabStrategy()
	default:
		return NewCrontabStrategy()
	}
}

func hasSystemd() bool {
	_, err := os.Stat("/run/systemd/system")
	return err == nil
}

// isWSL inspects the kernel release string for the "microsoft" marker
// WSL kernels carry, per spec's "systems without systemd" carve-out.
func isWSL() bool {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}

// UnsupportedPlatformError is returned by a Strategy when the host
// scheduler's CLI tool is unavailable.
type UnsupportedPlatformError struct {
	Strategy string
	Cause    error
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("watchdog: %s strategy unavailable: %v", e.Strategy, e.Cause)
}
func (e *UnsupportedPlatformError) Unwrap() error { return e.Cause }
