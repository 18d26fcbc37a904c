package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/swincd/driver/internal/depgraph"
	"github.com/swincd/driver/internal/diag"
	"github.com/swincd/driver/internal/integrator"
	"github.com/swincd/driver/internal/modulegraph"
	"github.com/swincd/driver/internal/procset"
	"github.com/swincd/driver/internal/tracer"
	"github.com/swincd/driver/internal/vfs"
)

// WaveScheduler executes the first wave of jobs and dynamically promotes
// skipped inputs into a second wave as their dependents are discovered
// (§4.6). It is the sole mutator of Graph and of the skipped-input pool
// while Run is in flight (§5) — all of that state is touched only from
// Run's own goroutine, never from a worker.
type WaveScheduler struct {
	Graph      *modulegraph.Graph
	Integrator *integrator.Integrator
	Procs      *procset.Set
	Sink       diag.Sink
	Workers    int

	// AllCompileJobs is every compile job for this invocation, including
	// ones that start out skipped — the second wave looks jobs up here
	// by file when promoting them out of the skip pool.
	AllCompileJobs map[vfs.File]*Job

	// Skipped is the mutable skip pool (internal/driver passes
	// incstate.Plan.Skipped itself, not a copy); Run deletes from it as
	// files are promoted.
	Skipped map[vfs.File]bool

	// OnJobDone, if set, is invoked synchronously from Run's own
	// goroutine (never concurrently, never from a worker) once per job
	// that reaches a terminal non-fatal outcome — success or a non-zero
	// exit. internal/driver uses this to build the BuildRecord for the
	// invocation without the scheduler needing to know anything about
	// record-keeping.
	OnJobDone func(job *Job, res Result)
}

// outcome pairs a finished Job with its Result for the done channel.
type outcome struct {
	job *Job
	res Result
}

// Run executes firstWave (every pre-compile job plus the compile jobs for
// every non-skipped input, per §4.6) to completion, promoting skipped
// inputs into the run as cascades are discovered. It returns a non-nil
// error only for the fatal cases of §7 (a spawn failure or a job-graph
// invariant violation) or when ctx is cancelled. A build that completes with one or more non-zero
// compile exits is reported via the returned buildFailed flag, not an
// error — per §7, "other independent jobs may still run" and the build
// only "ultimately reports failure".
func (s *WaveScheduler) Run(ctx context.Context, firstWave []*Job) (buildFailed bool, err error) {
	jg, err := buildJobGraph(firstWave, s.Sink)
	if err != nil {
		return false, err
	}

	// runCtx is cancelled on every exit path (including the fatal ones
	// below), so a worker blocked trying to hand off a result after the
	// coordinator has already stopped reading `done` always has a live
	// <-ctx.Done() case to fall back on instead of leaking forever.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	status := newStatusLine(s.Workers)
	work := make(chan *Job, len(firstWave)+len(s.AllCompileJobs))
	done := make(chan outcome)

	eg, egCtx := errgroup.WithContext(runCtx)
	for i := 0; i < s.Workers; i++ {
		workerIdx := i
		eg.Go(func() error {
			return s.runWorker(egCtx, workerIdx, work, done, status)
		})
	}

	done2 := make(map[int64]bool)  // jobs that finished successfully and are integrated
	failed := make(map[int64]bool) // jobs that finished with a non-fatal failure
	unfinished := make(map[int64]*Job, len(firstWave))
	for _, j := range firstWave {
		unfinished[j.ID] = j
	}

	enqueue := func(j *Job) {
		select {
		case work <- j:
		case <-runCtx.Done():
		}
	}
	for _, j := range firstWave {
		if jg.noDeps(j.ID) {
			enqueue(j)
		}
	}

	// Termination (§4.6): the set of unfinished jobs becomes empty and no
	// skipped input has been newly promoted. Promotion always inserts
	// into unfinished before enqueuing (below), so "unfinished is empty"
	// already implies "nothing new was promoted this instant" — a single
	// counter is enough, no separate promoted-this-round flag needed.
	for len(unfinished) > 0 {
		select {
		case o := <-done:
			delete(unfinished, o.job.ID)
			status.update(0, fmt.Sprintf("%d remaining", len(unfinished)))

			if o.res.SpawnErr != nil {
				s.Sink.Fatal("spawn failed for %s: %v", o.job.File, o.res.SpawnErr)
				cancelRun()
				close(work)
				s.Procs.Killall()
				eg.Wait()
				return true, xerrors.Errorf("scheduler: %s: %w", o.job.File, o.res.SpawnErr)
			}

			if o.res.ExitErr != nil {
				s.Sink.Error("compile of %s failed: %v", o.job.File, o.res.ExitErr)
				failed[o.job.ID] = true
				buildFailed = true
				// A failed producer's output never arrives, so every job
				// that (transitively) consumes it can never legally run;
				// mark them all failed too instead of leaving them stuck
				// in unfinished forever (mirrors the teacher's
				// batch.scheduler.markFailed).
				s.markDependentsFailed(jg, o.job, unfinished, failed)
				if s.OnJobDone != nil {
					s.OnJobDone(o.job, o.res)
				}
				continue
			}

			done2[o.job.ID] = true
			if s.OnJobDone != nil {
				s.OnJobDone(o.job, o.res)
			}

			if o.job.Kind == KindCompile {
				if o.res.ArtifactParseErr != nil {
					s.Sink.Warning("could not parse dependency artifact for %s: %v", o.job.File, o.res.ArtifactParseErr)
				} else if o.res.Artifact != nil {
					promoted := s.integrateAndCascade(o.job.File, o.res.Artifact)
					for _, f := range promoted {
						if pj, ok := s.AllCompileJobs[f]; ok {
							unfinished[pj.ID] = pj
							enqueue(pj)
						}
					}
				}
			}

			for _, consumer := range jg.consumers(o.job.ID) {
				if _, pending := unfinished[consumer.ID]; pending && jg.ready(consumer.ID, done2) {
					enqueue(consumer)
				}
			}

		case <-ctx.Done():
			close(work)
			s.Procs.Killall()
			eg.Wait()
			return true, ctx.Err()
		}
	}

	close(work)
	if err := eg.Wait(); err != nil {
		return true, err
	}
	status.refresh()
	return buildFailed, nil
}

// markDependentsFailed recursively marks every job downstream of producer
// as failed and removes it from unfinished, so the termination check
// (len(unfinished) == 0) isn't blocked forever on work that can never run.
func (s *WaveScheduler) markDependentsFailed(jg *jobGraph, producer *Job, unfinished map[int64]*Job, failed map[int64]bool) {
	for _, consumer := range jg.consumers(producer.ID) {
		if failed[consumer.ID] {
			continue // already handled via another failed producer
		}
		failed[consumer.ID] = true
		if _, pending := unfinished[consumer.ID]; pending {
			delete(unfinished, consumer.ID)
			s.Sink.Warning("skipping %s: depends on failed %s", consumer.File, producer.File)
		}
		s.markDependentsFailed(jg, consumer, unfinished, failed)
	}
}

func (s *WaveScheduler) runWorker(ctx context.Context, idx int, work <-chan *Job, done chan<- outcome, status *statusLine) error {
	for j := range work {
		if err := ctx.Err(); err != nil {
			return err
		}
		status.update(idx+1, "building "+j.File.Path)
		start := time.Now()
		s.Sink.Trace("job start", diag.F("file", j.File.Path), diag.F("worker", idx))
		res := j.Run(ctx)
		s.Sink.Trace("job end", diag.F("file", j.File.Path), diag.F("worker", idx), diag.F("elapsed", time.Since(start).String()))
		status.update(idx+1, "idle")
		select {
		case done <- outcome{job: j, res: res}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// integrateAndCascade runs the Integrator over a freshly completed
// compile's artifact and Tracer over the resulting changed set, returning
// every currently-skipped file that is now transitively affected (§4.6
// second wave). Per §7's propagation policy, an Integrate error is local
// to this file: it is reported and treated as "nothing changed", not
// escalated to a build-ending failure.
func (s *WaveScheduler) integrateAndCascade(file vfs.File, artifact *depgraph.Graph) []vfs.File {
	changed, err := s.Integrator.Integrate(file, artifact)
	if err != nil {
		s.Sink.Error("integrating %s: %v", file, err)
		return nil
	}
	if len(changed) == 0 {
		return nil
	}

	t := tracer.New(s.Graph)
	visited, _ := t.Trace(changed)
	var promoted []vfs.File
	for _, ref := range tracer.AffectedFiles(visited) {
		if !ref.Valid {
			continue
		}
		if s.Skipped[ref.File] {
			delete(s.Skipped, ref.File)
			promoted = append(promoted, ref.File)
			s.Sink.Trace("cascade", diag.F("file", ref.File.Path), diag.F("reason", "transitively affected by "+file.Path+"'s change, promoted out of the skip pool"))
		}
	}
	return promoted
}
