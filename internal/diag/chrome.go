package diag

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// chromeEvent is one entry of the Chrome Trace Event JSON array format,
// adapted from the teacher's internal/trace.PendingEvent — same wire
// shape, rebuilt here as an explicit Sink implementation instead of a
// package of global functions, since diag.Sink is injected rather than
// reached through package-level state.
type chromeEvent struct {
	Name           string      `json:"name"`
	Categories     string      `json:"cat,omitempty"`
	Type           string      `json:"ph"`
	ClockTimestamp uint64      `json:"ts"`
	Pid            uint64      `json:"pid"`
	Tid            uint64      `json:"tid"`
	Args           interface{} `json:"args,omitempty"`
}

// ChromeTraceSink writes every Trace call as a Chrome Trace Event "instant"
// entry into w, opening the JSON array on construction. It embeds a
// LogSink for the leveled methods, since only Trace needs the structured
// format — Remark/Warning/Error/Fatal still go to a *log.Logger.
type ChromeTraceSink struct {
	*LogSink

	mu    sync.Mutex
	w     io.Writer
	start time.Time
}

// NewChromeTraceSink wraps logs with a Chrome Trace Event feed written to
// w. w's contents form a JSON array whose closing `]` is optional (Chrome's
// trace viewer tolerates a missing trailing bracket, per the teacher's
// internal/trace.Sink comment).
func NewChromeTraceSink(logs *LogSink, w io.Writer) *ChromeTraceSink {
	w.Write([]byte{'['})
	return &ChromeTraceSink{LogSink: logs, w: w, start: time.Now()}
}

func (s *ChromeTraceSink) Trace(event string, fields ...Field) {
	s.LogSink.Trace(event, fields...)

	args := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		args[f.Key] = f.Value
	}
	ev := chromeEvent{
		Name:           event,
		Type:           "I", // instant event
		ClockTimestamp: uint64(time.Since(s.start) / time.Microsecond),
		Args:           args,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write(append(b, ','))
}
