// Package monitoring routes the filter's diagnostic output. There are three
// streams: ops for things an operator must act on, diag for per-session
// events such as re-initialisation and gating, and trace for the per-step
// estimates printed during replay. Only ops is on by default.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Stream identifies one of the log streams.
type Stream int

const (
	StreamOps Stream = iota
	StreamDiag
	StreamTrace
	numStreams
)

func (s Stream) String() string {
	switch s {
	case StreamOps:
		return "ops"
	case StreamDiag:
		return "diag"
	case StreamTrace:
		return "trace"
	}
	return "unknown"
}

// LogWriters is the destination of each stream. A nil writer mutes it.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

const logPrefix = "[trackfilter] "

// streams holds one logger per Stream; a nil entry means muted. Sessions log
// from errgroup workers during replay, so loggers are swapped atomically.
var streams [numStreams]atomic.Pointer[log.Logger]

func init() {
	streams[StreamOps].Store(newLogger(os.Stderr))
}

// SetLogWriters replaces the destination of every stream.
func SetLogWriters(w LogWriters) {
	streams[StreamOps].Store(newLogger(w.Ops))
	streams[StreamDiag].Store(newLogger(w.Diag))
	streams[StreamTrace].Store(newLogger(w.Trace))
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, logPrefix, log.LstdFlags|log.Lmicroseconds)
}

// Enabled reports whether s has a destination.
func Enabled(s Stream) bool {
	return s >= 0 && s < numStreams && streams[s].Load() != nil
}

// Logf writes to s if it is enabled.
func Logf(s Stream, format string, args ...any) {
	if s < 0 || s >= numStreams {
		return
	}
	if l := streams[s].Load(); l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs replay failures, server lifecycle and anything else an operator
// needs to see.
func Opsf(format string, args ...any) { Logf(StreamOps, format, args...) }

// Diagf logs session re-initialisations, gated measurements and tuning.
func Diagf(format string, args ...any) { Logf(StreamDiag, format, args...) }

// Tracef logs per-step estimates.
func Tracef(format string, args ...any) { Logf(StreamTrace, format, args...) }

// TraceEnabled lets callers skip formatting state vectors when nobody reads
// the trace stream.
func TraceEnabled() bool { return Enabled(StreamTrace) }
