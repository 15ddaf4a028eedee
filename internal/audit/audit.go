// Package audit implements the event & audit log (component C7): an
// append-only, line-oriented record of every state-changing decision
// the agent makes, mirrored through structured logging (github.com/
// hashicorp/go-hclog) the way the teacher's logger.go gates its own
// log.Printf calls by category, and summarized per tick into a small
// embedded store (go.etcd.io/bbolt) so `status` never has to tail and
// reparse the audit file.
package audit

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/dcs-tools/domainguard/internal/events"
	"github.com/dcs-tools/domainguard/internal/fslock"
)

// Log appends audit lines to a single file under an exclusive flock
// and mirrors each one through a structured logger.
type Log struct {
	path string
	log  hclog.Logger
}

// Open returns a Log writing to path, creating it if absent.
func Open(path string, logger hclog.Logger) *Log {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Log{path: path, log: logger.Named("audit")}
}

// Record appends one audit line for ev and mirrors it through the
// structured logger. Watchdog-originated events are prefixed ` | WD | `
// per spec §6; all others use the plain `VERB | OBJECT | k=v...` form.
func (l *Log) Record(ev events.Event, fromWatchdog bool) error {
	line := formatLine(ev, fromWatchdog)

	lock, err := fslock.Exclusive(l.path)
	if err != nil {
		return fmt.Errorf("audit: acquiring lock: %w", err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: opening log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("audit: writing log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("audit: syncing log: %w", err)
	}

	l.mirror(ev)
	return nil
}

func formatLine(ev events.Event, fromWatchdog bool) string {
	var b strings.Builder
	b.WriteString(ev.Time.UTC().Format("2006-01-02T15:04:05Z"))
	b.WriteString(" | ")
	if fromWatchdog {
		b.WriteString("WD | ")
	}
	b.WriteString(string(ev.Verb))
	b.WriteString(" | ")
	b.WriteString(ev.Object)

	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" | ")
		} else {
			b.WriteString(" ")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(ev.Detail[k])
	}
	return b.String()
}

func (l *Log) mirror(ev events.Event) {
	level := hclog.Info
	switch ev.Verb {
	case events.PanicStart, events.PanicEnd, events.PCActivate:
		level = hclog.Warn
	}
	args := []interface{}{"object", ev.Object}
	for k, v := range ev.Detail {
		args = append(args, k, v)
	}
	switch level {
	case hclog.Warn:
		l.log.Warn(string(ev.Verb), args...)
	default:
		l.log.Info(string(ev.Verb), args...)
	}
}

// Tail returns the last n lines of the audit file (for `history`-style
// commands); n <= 0 returns the whole file.
func Tail(path string, n int) ([]string, error) {
	lock, err := fslock.Shared(path)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: reading log: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
