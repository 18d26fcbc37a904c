// Package diag defines the diagnostic sink every component in this module
// accepts by injection instead of calling a global logger (spec §9 design
// notes). Sink is deliberately narrow: leveled text plus a structured
// Trace event, grounded on the teacher's batch.Ctx.Log *log.Logger field
// (internal/batch/batch.go) and its separate internal/trace Chrome Trace
// Event sink.
package diag

// Field is one key/value pair attached to a Trace event.
type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Sink receives every diagnostic the incremental core and scheduler emit.
// Remark/Warning/Error correspond to spec §7's diagnostic severities;
// Fatal is reserved for GraphInvariantViolation and spawn failures; it only
// reports, and the code that calls it then ends the build by returning an
// error (cmd/swincd exits non-zero on it). Trace is the
// `-driver-show-incremental` verbose decision log and the Chrome Trace
// Event feed (§9 supplemented feature), a no-op on implementations that
// don't care about it.
type Sink interface {
	Remark(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
	Fatal(format string, args ...interface{})
	Trace(event string, fields ...Field)
}

// Discard is a Sink that drops everything; useful in tests that don't
// care about diagnostic output.
var Discard Sink = discard{}

type discard struct{}

func (discard) Remark(string, ...interface{})  {}
func (discard) Warning(string, ...interface{}) {}
func (discard) Error(string, ...interface{})   {}
func (discard) Fatal(string, ...interface{})   {}
func (discard) Trace(string, ...Field)         {}
