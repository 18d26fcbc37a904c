// Package procset tracks every live compile subprocess so the scheduler
// can terminate all of them on a fatal error or external signal (spec §5
// "Cancellation & timeouts"). Grounded on the teacher's
// internal/oninterrupt (a registered-callback set protected by a mutex)
// and atexit.go (register/run-once bookkeeping), rebuilt as an injectable
// instance rather than package-level global state, consistent with the
// capability-injection design note in spec §9.
package procset

import "sync"

// Proc is the minimal subprocess handle the scheduler needs to kill: every
// *exec.Cmd satisfies this once started, via cmd.Process.
type Proc interface {
	Kill() error
}

// Set is the live process set. The zero value is ready to use.
type Set struct {
	mu      sync.Mutex
	procs   map[int]Proc
	nextID  int
	aborted bool
}

// Add registers a newly spawned subprocess and returns a token to pass to
// Remove once it exits. If the set has already been aborted (Killall was
// called), Add kills p immediately and returns a zero token — callers
// must check this and treat it as "this job was cancelled before it could
// run", per §5's requirement that cancellation be effective even for jobs
// racing the abort.
func (s *Set) Add(p Proc) (token int, stillLive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		p.Kill()
		return 0, false
	}
	if s.procs == nil {
		s.procs = make(map[int]Proc)
	}
	s.nextID++
	id := s.nextID
	s.procs[id] = p
	return id, true
}

// Remove unregisters a subprocess that has exited normally.
func (s *Set) Remove(token int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, token)
}

// Killall terminates every currently-registered subprocess and marks the
// set as aborted, so any subprocess registered afterward (a race with a
// worker that was about to spawn one) is killed on arrival instead of
// being allowed to run. Safe to call more than once.
func (s *Set) Killall() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	var errs []error
	for id, p := range s.procs {
		if err := p.Kill(); err != nil {
			errs = append(errs, err)
		}
		delete(s.procs, id)
	}
	return errs
}

// Len reports how many subprocesses are currently live, for diagnostics.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}
