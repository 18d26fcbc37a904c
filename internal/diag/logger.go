package diag

import (
	"fmt"
	"log"
)

// LogSink is the default Sink, wrapping a standard library *log.Logger —
// matching the teacher's use of stdlib log everywhere instead of a
// third-party structured logger (see DESIGN.md for why no third-party
// logging library from the retrieval pack is wired in here).
type LogSink struct {
	Logger  *log.Logger
	Verbose bool // gates Trace output, set by -driver-show-incremental
}

func NewLogSink(l *log.Logger, verbose bool) *LogSink {
	return &LogSink{Logger: l, Verbose: verbose}
}

func (s *LogSink) Remark(format string, args ...interface{}) {
	s.Logger.Printf("remark: "+format, args...)
}

func (s *LogSink) Warning(format string, args ...interface{}) {
	s.Logger.Printf("warning: "+format, args...)
}

func (s *LogSink) Error(format string, args ...interface{}) {
	s.Logger.Printf("error: "+format, args...)
}

func (s *LogSink) Fatal(format string, args ...interface{}) {
	s.Logger.Printf("fatal: "+format, args...)
}

func (s *LogSink) Trace(event string, fields ...Field) {
	if !s.Verbose {
		return
	}
	s.Logger.Printf("trace: %s%s", event, formatFields(fields))
}

func formatFields(fields []Field) string {
	if len(fields) == 0 {
		return ""
	}
	out := " ("
	for i, f := range fields {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%v", f.Key, f.Value)
	}
	return out + ")"
}
