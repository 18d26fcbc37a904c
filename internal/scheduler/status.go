package scheduler

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// isTerminal mirrors the teacher's internal/batch/batch.go package-level
// isTerminal check (unix.IoctlGetTermios against stdout), evaluated once.
var isTerminal = func() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}()

// statusLine is the live per-worker status display, adapted from
// batch.scheduler's status/refreshStatus/updateStatus trio: one line per
// worker plus a summary line, redrawn in place on a TTY and silent
// otherwise (so piping build output to a file or CI log stays clean).
type statusLine struct {
	mu         sync.Mutex
	lines      []string
	lastRefresh time.Time
}

func newStatusLine(workers int) *statusLine {
	return &statusLine{lines: make([]string, workers+1)}
}

func (s *statusLine) update(idx int, text string) {
	if !isTerminal {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if diff := len(s.lines[idx]) - len(text); diff > 0 {
		text += strings.Repeat(" ", diff)
	}
	s.lines[idx] = text
	if time.Since(s.lastRefresh) < 100*time.Millisecond {
		return
	}
	s.lastRefresh = time.Now()
	s.print()
}

func (s *statusLine) refresh() {
	if !isTerminal {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRefresh = time.Now()
	s.print()
}

// print assumes s.mu is held.
func (s *statusLine) print() {
	for _, line := range s.lines {
		fmt.Println(line)
	}
	fmt.Printf("\033[%dA", len(s.lines)) // restore cursor position
}
