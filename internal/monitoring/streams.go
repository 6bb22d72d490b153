package monitoring

import (
	"io"
	"log"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
//
//   - Ops: actionable warnings, errors, data loss, lifecycle events.
//   - Diag: day-to-day diagnostics and tuning context.
//   - Trace: high-frequency telegram and scan telemetry.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// AllTo routes every stream to w. Used by the COMPACT_DEBUG_LOG fallback.
func AllTo(w io.Writer) LogWriters {
	return LogWriters{Ops: w, Diag: w, Trace: w}
}

// Streams is a prefixed set of ops/diag/trace loggers owned by one package.
// A nil writer disables its stream. The zero value logs nothing.
type Streams struct {
	prefix string

	mu    sync.RWMutex
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

// NewStreams returns disabled streams that will tag lines with prefix.
func NewStreams(prefix string) *Streams {
	return &Streams{prefix: prefix}
}

// SetWriters replaces all three stream destinations.
func (s *Streams) SetWriters(w LogWriters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = s.newLogger(w.Ops)
	s.diag = s.newLogger(w.Diag)
	s.trace = s.newLogger(w.Trace)
}

func (s *Streams) newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, s.prefix, log.LstdFlags|log.Lmicroseconds)
}

// Enabled reports which streams currently have a destination.
func (s *Streams) Enabled() (ops, diag, trace bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops != nil, s.diag != nil, s.trace != nil
}

// Opsf logs to the ops stream.
func (s *Streams) Opsf(format string, args ...interface{}) { s.printf(&s.ops, format, args...) }

// Diagf logs to the diag stream.
func (s *Streams) Diagf(format string, args ...interface{}) { s.printf(&s.diag, format, args...) }

// Tracef logs to the trace stream.
func (s *Streams) Tracef(format string, args ...interface{}) { s.printf(&s.trace, format, args...) }

func (s *Streams) printf(l **log.Logger, format string, args ...interface{}) {
	s.mu.RLock()
	logger := *l
	s.mu.RUnlock()
	if logger != nil {
		logger.Printf(format, args...)
	}
}
