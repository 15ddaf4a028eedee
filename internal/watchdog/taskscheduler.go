package watchdog

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const taskSchedulerName = "domainguard-watchdog"

// TaskSchedulerStrategy registers the watchdog as a Windows Task
// Scheduler task via schtasks.exe, the Windows mechanism from spec
// §4.9.
type TaskSchedulerStrategy struct{}

// NewTaskSchedulerStrategy returns a TaskSchedulerStrategy.
func NewTaskSchedulerStrategy() *TaskSchedulerStrategy { return &TaskSchedulerStrategy{} }

func (s *TaskSchedulerStrategy) Name() string { return "task-scheduler" }

func (s *TaskSchedulerStrategy) Install(binaryPath string) error {
	_ = s.Uninstall()
	args := []string{
		"/Create", "/TN", taskSchedulerName,
		"/TR", fmt.Sprintf(`"%s" sync`, binaryPath),
		"/SC", "MINUTE", "/MO", "2",
		"/F",
	}
	if out, err := exec.Command("schtasks", args...).CombinedOutput(); err != nil {
		return &UnsupportedPlatformError{Strategy: s.Name(), Cause: fmt.Errorf("%w: %s", err, out)}
	}
	return nil
}

func (s *TaskSchedulerStrategy) Uninstall() error {
	out, err := exec.Command("schtasks", "/Delete", "/TN", taskSchedulerName, "/F").CombinedOutput()
	if err != nil && !strings.Contains(strings.ToLower(string(out)), "cannot find") {
		return &UnsupportedPlatformError{Strategy: s.Name(), Cause: fmt.Errorf("%w: %s", err, out)}
	}
	return nil
}

func (s *TaskSchedulerStrategy) Registered() (bool, error) {
	out, err := exec.Command("schtasks", "/Query", "/TN", taskSchedulerName).CombinedOutput()
	if err != nil {
		if strings.Contains(strings.ToLower(string(out)), "cannot find") {
			return false, nil
		}
		return false, &UnsupportedPlatformError{Strategy: s.Name(), Cause: fmt.Errorf("%w: %s", err, out)}
	}
	return true, nil
}

// NextRun is unsupported: schtasks's "Next Run Time" column output is
// locale-dependent and not worth parsing when the crontab strategy
// already covers the one platform spec calls out for this display.
func (s *TaskSchedulerStrategy) NextRun(now time.Time) (time.Time, bool) {
	return time.Time{}, false
}
