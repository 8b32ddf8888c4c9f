// Package simlog centralizes structured logging for the simulation core on
// top of github.com/rs/zerolog: a single process-wide logger hands out
// named sub-loggers per subsystem rather than letting each package reach
// for the standard library's log package.
package simlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// base is the process-wide logger. Components pull a named child from it
// via For rather than constructing their own, so every log line carries a
// consistent timestamp and level regardless of which package emitted it.
var base = newBase(os.Stderr)

func newBase(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// SetOutput redirects the process-wide logger, e.g. to a console writer in
// the demo CLI or to a buffer in tests.
func SetOutput(w io.Writer) {
	base = newBase(w)
}

// SetLevel adjusts the minimum level the process-wide logger emits.
func SetLevel(level zerolog.Level) {
	base = base.Level(level)
}

// For returns a child logger tagged with component, e.g. For("controller")
// or For("bus"). Callers add further context (core id, cache name) with
// zerolog's With() chaining on the returned value.
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
