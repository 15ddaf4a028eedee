// Package logging centralizes the module's structured application
// logger. Every component gets its own hclog.Named logger, mirroring
// the teacher's debugLog/errorLog convenience wrapper but backed by a
// real leveled logger instead of the standard library's log.Printf.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Options configures the root logger.
type Options struct {
	Level  string // "trace", "debug", "info", "warn", "error"
	JSON   bool
	Output io.Writer // defaults to os.Stderr
}

// New builds the root application logger. Components call
// root.Named("reconciler") etc. to get a scoped sub-logger, the same
// pattern nomad's command/agent uses to name every subsystem's log
// lines.
func New(opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "domainguard",
		Level:      level,
		Output:     out,
		JSONFormat: opts.JSON,
	})
}
