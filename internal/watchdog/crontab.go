package watchdog

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/cronexpr"
)

const crontabMarker = "# domainguard-watchdog"
const crontabSchedule = "*/2 * * * *"

// CrontabStrategy installs a `*/2 * * * *` line into the user's
// crontab, the Linux fallback when systemd is unavailable and the
// forced choice on WSL (spec §4.9).
type CrontabStrategy struct{}

// NewCrontabStrategy returns a CrontabStrategy.
func NewCrontabStrategy() *CrontabStrategy { return &CrontabStrategy{} }

func (s *CrontabStrategy) Name() string { return "crontab" }

func (s *CrontabStrategy) line(binaryPath string) string {
	return fmt.Sprintf("%s %s sync %s", crontabSchedule, binaryPath, crontabMarker)
}

func (s *CrontabStrategy) currentLines() ([]string, error) {
	out, err := exec.Command("crontab", "-l").CombinedOutput()
	if err != nil {
		// "no crontab for user" exits non-zero; treat as empty.
		if strings.Contains(strings.ToLower(string(out)), "no crontab") {
			return nil, nil
		}
		return nil, &UnsupportedPlatformError{Strategy: s.Name(), Cause: fmt.Errorf("%w: %s", err, out)}
	}
	return strings.Split(string(out), "\n"), nil
}

func (s *CrontabStrategy) write(lines []string) error {
	cmd := exec.Command("crontab", "-")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		stdin.Close()
		return err
	}
	stdin.Close()
	return cmd.Wait()
}

func (s *CrontabStrategy) Install(binaryPath string) error {
	lines, err := s.currentLines()
	if err != nil {
		return err
	}
	filtered := make([]string, 0, len(lines)+1)
	for _, l := range lines {
		if strings.Contains(l, crontabMarker) || strings.TrimSpace(l) == "" {
			continue
		}
		filtered = append(filtered, l)
	}
	filtered = append(filtered, s.line(binaryPath))
	return s.write(filtered)
}

func (s *CrontabStrategy) Uninstall() error {
	lines, err := s.currentLines()
	if err != nil {
		return err
	}
	filtered := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.Contains(l, crontabMarker) || strings.TrimSpace(l) == "" {
			continue
		}
		filtered = append(filtered, l)
	}
	if len(filtered) == 0 {
		_, _ = exec.Command("crontab", "-r").CombinedOutput()
		return nil
	}
	return s.write(filtered)
}

func (s *CrontabStrategy) Registered() (bool, error) {
	lines, err := s.currentLines()
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if strings.Contains(l, crontabMarker) {
			return true, nil
		}
	}
	return false, nil
}

// NextRun parses the installed `*/2 * * * *` line back into a
// cronexpr.Expression so `watchdog status` can report the next fire
// time without re-shelling to `crontab -l` and hand-parsing it at call
// sites; this is read-only bookkeeping over the same schedule string
// Install wrote, not a second source of truth.
func (s *CrontabStrategy) NextRun(now time.Time) (time.Time, bool) {
	expr, err := cronexpr.Parse(crontabSchedule)
	if err != nil {
		return time.Time{}, false
	}
	return expr.Next(now), true
}
