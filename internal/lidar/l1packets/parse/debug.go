package parse

import (
	"io"

	"github.com/banshee-data/compact.report/internal/monitoring"
)

var logs = monitoring.NewStreams("[parse] ")

// SetLogWriters configures the three logging streams for the parse package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs.SetWriters(monitoring.LogWriters{Ops: ops, Diag: diag, Trace: trace})
}

func opsf(format string, args ...interface{})   { logs.Opsf(format, args...) }
func diagf(format string, args ...interface{})  { logs.Diagf(format, args...) }
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }

// DO NOT add Debugf, that's an anti-pattern. Each callsite needs to use opsf, diagf, or tracef.
