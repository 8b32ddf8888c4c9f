// Package fatal implements spec.md §7's fail-fast policy: configuration
// errors, protocol violations, and trace desynchronization abort the run
// immediately rather than attempting recovery, mirroring the original's
// LOG_PRINT_ERROR(...); exit(1) idiom. Everything else (MSHR exhaustion,
// set-lock contention, futex timeout) is recoverable and handled by its
// owning package's normal return values instead of going through here.
package fatal

import (
	"github.com/sniperarch/memsim/internal/simlog"
)

var log = simlog.For("fatal")

// Assert logs msg at panic level and panics with it if cond is false. It is
// the module's single chokepoint for the invariants spec.md §7 classifies
// as fatal, so a caught panic in a test can assert on the message without
// every call site re-deriving its own error string.
func Assert(cond bool, msg string, fields ...interface{}) {
	if cond {
		return
	}
	event := log.Panic()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

// ConfigInvalid reports a configuration validation failure. Call sites pass
// the underlying error so it is logged with full context before aborting.
func ConfigInvalid(err error) {
	log.Fatal().Err(err).Msg("configuration invalid")
}

// ProtocolViolation reports a coherence message arriving in a state the
// protocol does not define a transition for, then exits the process.
func ProtocolViolation(detail string, fields map[string]interface{}) {
	event := log.Fatal()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg("protocol violation: " + detail)
}

// TraceDesync reports the trace replay stream diverging from what the
// simulation core expects (e.g. an out-of-order record id or truncated
// file), per spec.md §7, then exits the process.
func TraceDesync(detail string, fields map[string]interface{}) {
	event := log.Fatal()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg("trace desynchronized: " + detail)
}
