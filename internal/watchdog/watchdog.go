package watchdog

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Watchdog wires a Strategy to the on-disk disable marker and reports
// the combined status CLI verb `watchdog status` needs.
type Watchdog struct {
	strategy   Strategy
	stateDir   string
	binaryPath string
	log        hclog.Logger
}

// New returns a Watchdog using strategy for the given binary path and
// state directory. Pass nil logger to use hclog.NewNullLogger().
func New(strategy Strategy, stateDir, binaryPath string, logger hclog.Logger) *Watchdog {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Watchdog{
		strategy:   strategy,
		stateDir:   stateDir,
		binaryPath: binaryPath,
		log:        logger.Named("watchdog"),
	}
}

// Status summarizes the watchdog's current registration for CLI
// reporting.
type Status struct {
	Strategy      string
	Registered    bool
	Disabled      bool
	DisabledUntil time.Time
	NextRun       time.Time
	NextRunKnown  bool
}

// Install registers the watchdog with the host scheduler.
func (w *Watchdog) Install() error {
	if err := w.strategy.Install(w.binaryPath); err != nil {
		return fmt.Errorf("watchdog: install: %w", err)
	}
	w.log.Info("installed", "strategy", w.strategy.Name())
	return nil
}

// Uninstall removes the watchdog's host scheduler registration.
func (w *Watchdog) Uninstall() error {
	if err := w.strategy.Uninstall(); err != nil {
		return fmt.Errorf("watchdog: uninstall: %w", err)
	}
	w.log.Info("uninstalled", "strategy", w.strategy.Name())
	return nil
}

// StatusNow reports the current registration and disable state.
func (w *Watchdog) StatusNow(now time.Time) (Status, error) {
	registered, err := w.strategy.Registered()
	if err != nil {
		return Status{}, fmt.Errorf("watchdog: checking registration: %w", err)
	}
	disabled, until, err := Disabled(w.stateDir, now)
	if err != nil {
		return Status{}, fmt.Errorf("watchdog: checking disable marker: %w", err)
	}
	next, ok := w.strategy.NextRun(now)
	return Status{
		Strategy:      w.strategy.Name(),
		Registered:    registered,
		Disabled:      disabled,
		DisabledUntil: until,
		NextRun:       next,
		NextRunKnown:  ok,
	}, nil
}

// SelfHeal re-registers the watchdog if the host scheduler's entry has
// gone missing, unless the watchdog is explicitly disabled. It does
// nothing (and reports no error) when registration is intact. No
// installed task or CLI verb calls it; nothing runs it on the 300s
// SelfHealInterval cadence.
func (w *Watchdog) SelfHeal(now time.Time) (reinstalled bool, err error) {
	disabled, _, err := Disabled(w.stateDir, now)
	if err != nil {
		return false, fmt.Errorf("watchdog: checking disable marker: %w", err)
	}
	if disabled {
		return false, nil
	}

	registered, err := w.strategy.Registered()
	if err != nil {
		return false, fmt.Errorf("watchdog: checking registration: %w", err)
	}
	if registered {
		return false, nil
	}

	w.log.Warn("registration missing, self-healing", "strategy", w.strategy.Name())
	if err := w.strategy.Install(w.binaryPath); err != nil {
		return false, fmt.Errorf("watchdog: self-heal install: %w", err)
	}
	return true, nil
}

// ShouldRunTick reports whether a tick invoked by the host scheduler
// should actually run, consulting the disable marker (spec §4.9: "the
// scheduled task at launch consults the marker and no-ops when
// disabled").
func (w *Watchdog) ShouldRunTick(now time.Time) (bool, error) {
	disabled, _, err := Disabled(w.stateDir, now)
	if err != nil {
		return false, err
	}
	return !disabled, nil
}
