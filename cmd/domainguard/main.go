// Command domainguard is the thin wiring entrypoint over the
// reconciliation and safety engine: it loads policy and state from
// disk, builds the remote client, and dispatches the operator verb
// surface from spec.md §6. The CLI parser itself -- flag grammar,
// help text, shell completion -- is intentionally minimal here; it is
// an out-of-scope external concern the core library does not own.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/dcs-tools/domainguard/internal/audit"
	"github.com/dcs-tools/domainguard/internal/domainutil"
	"github.com/dcs-tools/domainguard/internal/events"
	"github.com/dcs-tools/domainguard/internal/logging"
	"github.com/dcs-tools/domainguard/internal/override"
	"github.com/dcs-tools/domainguard/internal/pending"
	"github.com/dcs-tools/domainguard/internal/pin"
	"github.com/dcs-tools/domainguard/internal/policy"
	"github.com/dcs-tools/domainguard/internal/reconciler"
	"github.com/dcs-tools/domainguard/internal/remote"
	"github.com/dcs-tools/domainguard/internal/watchdog"
)

// Exit codes per spec.md §6.
const (
	exitSuccess     = 0
	exitGeneral     = 1
	exitConfig      = 2
	exitRemote      = 3
	exitValidation  = 4
	exitPermission  = 5
	exitInterrupted = 130
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: domainguard <verb> [args...]")
		os.Exit(exitGeneral)
	}

	app, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "domainguard: %v\n", err)
		os.Exit(exitConfig)
	}
	defer app.close()

	err = app.dispatch(ctx, os.Args[1], os.Args[2:])
	os.Exit(classifyExit(ctx, err))
}

// app bundles every component main.go wires together once per
// invocation.
type app struct {
	log       hclog.Logger
	stateDir  string
	policy    *policy.Snapshot
	overrides *override.Store
	pendingSt *pending.Store
	pin       *pin.Gate
	auditLog  *audit.Log
	summaries *audit.SummaryStore
	remote    *remote.Client
	events    *events.ChanSink
	zone      string
	binary    string
}

func newApp() (*app, error) {
	stateDir := env("DOMAINGUARD_STATE_DIR", defaultStateDir())
	policyPath := env("DOMAINGUARD_POLICY_PATH", filepath.Join(stateDir, "policy.json"))

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	logger := logging.New(logging.Options{
		Level: env("DOMAINGUARD_LOG_LEVEL", "info"),
		JSON:  env("DOMAINGUARD_LOG_JSON", "") == "true",
	})

	snap, err := policy.Load(policyPath)
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	summaryStore, err := audit.OpenSummaryStore(filepath.Join(stateDir, "summaries.db"), 100)
	if err != nil {
		return nil, fmt.Errorf("opening summary store: %w", err)
	}

	binary, err := os.Executable()
	if err != nil {
		binary = "domainguard"
	}

	rc := remote.NewClient(remote.Config{
		APIKey:    os.Getenv("DOMAINGUARD_NEXTDNS_API_KEY"),
		ProfileID: os.Getenv("DOMAINGUARD_NEXTDNS_PROFILE"),
		Logger:    logger,
	})

	return &app{
		log:       logger,
		stateDir:  stateDir,
		policy:    snap,
		overrides: override.New(stateDir),
		pendingSt: pending.Open(filepath.Join(stateDir, "pending.json")),
		pin:       pin.New(stateDir),
		auditLog:  audit.Open(filepath.Join(stateDir, "audit.log"), logger),
		summaries: summaryStore,
		remote:    rc,
		events:    events.NewChanSink(64),
		zone:      snap.Settings.Timezone,
		binary:    binary,
	}, nil
}

func (a *app) close() {
	if a.summaries != nil {
		a.summaries.Close()
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".domainguard"
	}
	return filepath.Join(home, ".domainguard")
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (a *app) dispatch(ctx context.Context, verb string, args []string) error {
	switch verb {
	case "sync":
		return a.cmdSync(ctx, args)
	case "status":
		return a.cmdStatus(ctx)
	case "pause":
		return a.cmdPause(args)
	case "resume":
		return a.cmdResume()
	case "unblock":
		return a.cmdUnblock(args)
	case "allow":
		return a.cmdAllow(ctx, args)
	case "disallow":
		return a.cmdDisallow(ctx, args)
	case "panic":
		return a.cmdPanic(args)
	case "pending":
		return a.cmdPending(args)
	case "watchdog":
		return a.cmdWatchdog(args)
	case "protection":
		return a.cmdProtection(args)
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}
}

// requirePanicInactive refuses the call with a *override.PanicActiveError
// if panic is active. Spec §4.5 lists unblock, pause, resume, allow, and
// disallow as commands whose entry points MUST check this.
func (a *app) requirePanicInactive(now time.Time) error {
	active, until, err := a.overrides.PanicStatus(now)
	if err != nil {
		return err
	}
	if active {
		return &override.PanicActiveError{Until: until}
	}
	return nil
}

func (a *app) cmdSync(ctx context.Context, args []string) error {
	dryRun := false
	for _, arg := range args {
		switch arg {
		case "--dry-run":
			dryRun = true
		case "-v":
			a.log.SetLevel(hclog.Debug)
		}
	}

	now := time.Now()
	cfg := reconciler.TickConfig{
		Policy:       a.policy,
		Overrides:    a.overrides,
		Pending:      a.pendingSt,
		Remote:       a.remote,
		Zone:         a.zone,
		RunTokenPath: filepath.Join(a.stateDir, "run.token"),
		Deps: reconciler.Deps{
			Remote:  a.remote,
			Pending: a.pendingSt,
			PIN:     a.pin,
			Audit:   a.auditLog,
			Events:  a.events,
			DryRun:  dryRun,
		},
	}

	plan, result, err := reconciler.RunTick(ctx, cfg, now)
	if err != nil {
		if _, ok := err.(reconciler.SkippedError); ok {
			a.log.Info("tick skipped, another tick already running")
			return nil
		}
		return err
	}

	counters := result.Counters
	a.log.Info("tick complete",
		"blocked", counters.Blocked, "unblocked", counters.Unblocked,
		"allowed", counters.Allowed, "disallowed", counters.Disallowed,
		"pc_activated", counters.PCActivated, "pc_deactivated", counters.PCDeactivated,
		"pending_executed", counters.PendingExecuted, "errors", counters.Errors,
		"config_conflicts", len(plan.ConfigConflicts),
		"duration", result.Duration, "dry_run", dryRun)

	panicActive, _, err := a.overrides.PanicStatus(now)
	if err != nil {
		a.log.Warn("failed to read panic status for tick summary", "error", err)
	}
	pauseActive, _, err := a.overrides.PauseStatus(now)
	if err != nil {
		a.log.Warn("failed to read pause status for tick summary", "error", err)
	}

	sum := audit.TickSummary{
		RunToken:    uuid.NewString(),
		StartedAt:   now,
		Duration:    result.Duration.String(),
		Additions:   counters.Blocked + counters.Allowed,
		Removals:    counters.Unblocked + counters.Disallowed,
		Failures:    counters.Errors,
		DryRun:      dryRun,
		PanicActive: panicActive,
		PauseActive: pauseActive,
	}
	if err := a.summaries.Put(sum); err != nil {
		a.log.Warn("failed to persist tick summary", "error", err)
	}

	if result.Errors != nil {
		return result.Errors
	}
	return nil
}

func (a *app) cmdStatus(ctx context.Context) error {
	now := time.Now()
	panicActive, panicUntil, err := a.overrides.PanicStatus(now)
	if err != nil {
		return err
	}
	pauseActive, pauseUntil, err := a.overrides.PauseStatus(now)
	if err != nil {
		return err
	}
	latest, ok, err := a.summaries.Latest()
	if err != nil {
		return err
	}

	fmt.Printf("panic: %v", panicActive)
	if panicActive {
		fmt.Printf(" (until %s)", panicUntil.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Printf("pause: %v", pauseActive)
	if pauseActive {
		fmt.Printf(" (until %s)", pauseUntil.Format(time.RFC3339))
	}
	fmt.Println()
	if ok {
		fmt.Printf("last tick: %s (additions=%d removals=%d failures=%d)\n",
			latest.StartedAt.Format(time.RFC3339), latest.Additions, latest.Removals, latest.Failures)
	} else {
		fmt.Println("last tick: none recorded")
	}
	return nil
}

func (a *app) cmdPause(args []string) error {
	now := time.Now()
	if err := a.requirePanicInactive(now); err != nil {
		return err
	}
	if err := a.pin.RequireSession(now); err != nil {
		return err
	}
	minutes := 30
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &minutes); err != nil {
			return fmt.Errorf("%w: invalid minutes %q", errValidation, args[0])
		}
	}
	return a.overrides.BeginPause(time.Duration(minutes)*time.Minute, now)
}

func (a *app) cmdResume() error {
	now := time.Now()
	if err := a.requirePanicInactive(now); err != nil {
		return err
	}
	return a.overrides.EndPause()
}

func (a *app) cmdUnblock(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: usage: unblock <domain>", errValidation)
	}
	now := time.Now()
	if err := a.requirePanicInactive(now); err != nil {
		return err
	}
	if err := a.pin.RequireSession(now); err != nil {
		return err
	}
	domain := domainutil.Normalize(args[0])
	if !domainutil.ValidDomain(domain) {
		return fmt.Errorf("%w: invalid domain %q", errValidation, args[0])
	}
	d, ok := a.policy.DomainByName(domain)
	delay := "0"
	if ok {
		delay = d.UnblockDelay
	}
	execAt := now
	if ud, err := domainutil.ParseUnblockDelay(delay); err == nil && !ud.Instant && !ud.Never {
		execAt = now.Add(time.Duration(ud.Seconds) * time.Second)
	}
	if delay == "never" {
		return fmt.Errorf("%w: %s has unblock_delay=never and cannot be unblocked", errValidation, domain)
	}
	_, err := a.pendingSt.Create(pending.Target{Kind: pending.TargetDomain, ID: domain}, delay, now, execAt, pending.KindDelayedUnblock)
	return err
}

func (a *app) cmdAllow(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: usage: allow <domain>", errValidation)
	}
	now := time.Now()
	if err := a.requirePanicInactive(now); err != nil {
		return err
	}
	if err := a.pin.RequireSession(now); err != nil {
		return err
	}
	return a.remote.AddAllow(ctx, args[0])
}

func (a *app) cmdDisallow(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: usage: disallow <domain>", errValidation)
	}
	if err := a.requirePanicInactive(time.Now()); err != nil {
		return err
	}
	return a.remote.RemoveAllow(ctx, args[0])
}

func (a *app) cmdPanic(args []string) error {
	now := time.Now()
	if len(args) == 0 {
		return fmt.Errorf("%w: usage: panic <duration>|status|extend <duration>", errValidation)
	}
	switch args[0] {
	case "status":
		active, until, err := a.overrides.PanicStatus(now)
		if err != nil {
			return err
		}
		fmt.Printf("panic active: %v\n", active)
		if active {
			fmt.Printf("until: %s\n", until.Format(time.RFC3339))
		}
		return nil
	case "extend":
		if len(args) < 2 {
			return fmt.Errorf("%w: usage: panic extend <duration>", errValidation)
		}
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("%w: %v", errValidation, err)
		}
		return a.overrides.ExtendPanic(d, now)
	default:
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", errValidation, err)
		}
		return a.overrides.BeginPanic(d, now)
	}
}

func (a *app) cmdPending(args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		actions, err := a.pendingSt.List(false)
		if err != nil {
			return err
		}
		for _, act := range actions {
			fmt.Printf("%s\t%s\t%s\texecute_at=%s\n", act.ID, act.Target.Kind, act.Target.ID, act.ExecuteAt.Format(time.RFC3339))
		}
		return nil
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("%w: usage: pending show <id>", errValidation)
		}
		actions, err := a.pendingSt.List(true)
		if err != nil {
			return err
		}
		for _, act := range actions {
			if act.ID == args[1] {
				fmt.Printf("%+v\n", act)
				return nil
			}
		}
		return fmt.Errorf("%w: no such pending action %q", errValidation, args[1])
	case "cancel":
		if len(args) < 2 {
			return fmt.Errorf("%w: usage: pending cancel <id>", errValidation)
		}
		ok, err := a.pendingSt.Cancel(args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: pending action %q already terminal or missing", errValidation, args[1])
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown pending subcommand %q", errValidation, args[0])
	}
}

func (a *app) cmdWatchdog(args []string) error {
	wd := watchdog.New(watchdog.Detect(), a.stateDir, a.binary, a.log)
	if len(args) == 0 {
		return fmt.Errorf("%w: usage: watchdog install|uninstall|status|enable|disable", errValidation)
	}
	switch args[0] {
	case "install":
		return wd.Install()
	case "uninstall":
		return wd.Uninstall()
	case "status":
		st, err := wd.StatusNow(time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("strategy: %s\nregistered: %v\ndisabled: %v\n", st.Strategy, st.Registered, st.Disabled)
		if st.NextRunKnown {
			fmt.Printf("next run: %s\n", st.NextRun.Format(time.RFC3339))
		}
		return nil
	case "enable":
		return watchdog.Enable(a.stateDir)
	case "disable":
		var d time.Duration
		if len(args) > 1 {
			parsed, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("%w: %v", errValidation, err)
			}
			d = parsed
		}
		return watchdog.Disable(a.stateDir, d, time.Now())
	default:
		return fmt.Errorf("%w: unknown watchdog subcommand %q", errValidation, args[0])
	}
}

func (a *app) cmdProtection(args []string) error {
	if len(args) < 1 || args[0] != "pin" || len(args) < 2 {
		return fmt.Errorf("%w: usage: protection pin set|status|verify|remove", errValidation)
	}
	now := time.Now()
	switch args[1] {
	case "set":
		if len(args) < 3 {
			return fmt.Errorf("%w: usage: protection pin set <pin>", errValidation)
		}
		return a.pin.Set(args[2])
	case "status":
		set, err := a.pin.IsSet()
		if err != nil {
			return err
		}
		fmt.Printf("pin set: %v\n", set)
		return nil
	case "verify":
		if len(args) < 3 {
			return fmt.Errorf("%w: usage: protection pin verify <pin>", errValidation)
		}
		return a.pin.Verify(args[2], now)
	case "remove":
		delay := 24 * time.Hour
		_, err := a.pendingSt.Create(pending.Target{Kind: pending.TargetPINRemoval, ID: "pin"}, delay.String(), now, now.Add(delay), pending.KindPINRemoval)
		return err
	default:
		return fmt.Errorf("%w: unknown protection pin subcommand %q", errValidation, args[1])
	}
}

var errValidation = errors.New("validation error")

// classifyExit maps a returned error to spec.md §6's exit code taxonomy.
func classifyExit(ctx context.Context, err error) int {
	if err == nil {
		return exitSuccess
	}
	if ctx.Err() != nil {
		return exitInterrupted
	}

	var configErr *policy.ConfigError
	var transientErr *remote.TransientError
	var permanentErr *remote.PermanentError
	var invalidDomainErr *remote.InvalidDomainError
	var lockoutErr *pin.LockoutError
	var panicActiveErr *override.PanicActiveError

	switch {
	case errors.As(err, &configErr):
		return exitConfig
	case errors.As(err, &transientErr), errors.As(err, &permanentErr):
		return exitRemote
	case errors.As(err, &invalidDomainErr):
		return exitValidation
	case errors.As(err, &lockoutErr), errors.As(err, &panicActiveErr):
		return exitPermission
	case errors.Is(err, errValidation):
		return exitValidation
	default:
		return exitGeneral
	}
}
