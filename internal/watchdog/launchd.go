package watchdog

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const launchdLabel = "io.dcs-tools.domainguard.watchdog"

// LaunchdStrategy registers the watchdog as a macOS launchd user agent
// plist under ~/Library/LaunchAgents, loaded with `launchctl load`.
type LaunchdStrategy struct {
	plistPath string
}

// NewLaunchdStrategy returns a LaunchdStrategy rooted at the calling
// user's LaunchAgents directory.
func NewLaunchdStrategy() *LaunchdStrategy {
	home, _ := os.UserHomeDir()
	return &LaunchdStrategy{
		plistPath: filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"),
	}
}

func (s *LaunchdStrategy) Name() string { return "launchd" }

func (s *LaunchdStrategy) Install(binaryPath string) error {
	_ = s.Uninstall()

	plist := fmt.Sprintf(launchdPlistTemplate, launchdLabel, binaryPath, int(TickInterval.Seconds()))
	if err := os.MkdirAll(filepath.Dir(s.plistPath), 0o755); err != nil {
		return fmt.Errorf("watchdog: creating LaunchAgents dir: %w", err)
	}
	if err := os.WriteFile(s.plistPath, []byte(plist), 0o644); err != nil {
		return fmt.Errorf("watchdog: writing plist: %w", err)
	}
	if out, err := exec.Command("launchctl", "load", s.plistPath).CombinedOutput(); err != nil {
		return &UnsupportedPlatformError{Strategy: s.Name(), Cause: fmt.Errorf("%w: %s", err, out)}
	}
	return nil
}

func (s *LaunchdStrategy) Uninstall() error {
	if _, err := os.Stat(s.plistPath); os.IsNotExist(err) {
		return nil
	}
	_, _ = exec.Command("launchctl", "unload", s.plistPath).CombinedOutput()
	if err := os.Remove(s.plistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("watchdog: removing plist: %w", err)
	}
	return nil
}

func (s *LaunchdStrategy) Registered() (bool, error) {
	if _, err := os.Stat(s.plistPath); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	out, err := exec.Command("launchctl", "list", launchdLabel).CombinedOutput()
	if err != nil {
		return false, nil
	}
	return len(out) > 0, nil
}

// NextRun is unsupported for launchd: StartInterval doesn't expose a
// queryable next-fire time the way a crontab expression does.
func (s *LaunchdStrategy) NextRun(now time.Time) (time.Time, bool) {
	return time.Time{}, false
}

const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
		<string>sync</string>
	</array>
	<key>StartInterval</key>
	<integer>%d</integer>
	<key>RunAtLoad</key>
	<false/>
</dict>
</plist>
`
