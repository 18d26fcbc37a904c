// Package scheduler implements the WaveScheduler of spec §4.6/§5: a
// bounded worker pool that runs the first wave of compile jobs, then
// dynamically promotes skipped inputs into a second wave as their
// cascading dependencies are discovered mid-build. Grounded on the
// teacher's internal/batch/batch.go scheduler (work/done channels,
// errgroup worker pool, gonum job-ordering graph, TTY status line), with
// the package-dependency DAG replaced by a file producer/consumer DAG and
// the distro package-cycle-breaking logic replaced by a hard
// GraphInvariantViolation (spec §7: a cyclic job graph is a driver bug,
// not something to route around).
package scheduler

import (
	"context"

	"github.com/swincd/driver/internal/depgraph"
	"github.com/swincd/driver/internal/vfs"
)

// Kind distinguishes the two job shapes named in §4.6: pre-compile jobs
// always run in the first wave; compile jobs are the ones IncrementalState
// partitions into mandatory/speculative/skipped.
type Kind int

const (
	KindPrecompile Kind = iota
	KindCompile
)

// Job is one schedulable unit of work. Produces/Consumes describe the
// producer map spec §5 uses for ordering guarantees: a job whose Consumes
// overlaps another job's Produces must start after that job finishes.
type Job struct {
	ID   int64
	File vfs.File // zero value for a Kind==KindPrecompile job not tied to one input
	Kind Kind

	Produces []vfs.File
	Consumes []vfs.File

	// InterfaceKey is the input's sourceFileProvide interface key. Neither
	// the scheduler nor internal/driver reads it (internal/driver seeds the
	// speculative cascade from BuildInput.InterfaceKey), and cmd/swincd
	// leaves it unset.
	InterfaceKey depgraph.DependencyKey

	// Run executes the job, spawning whatever subprocess it represents.
	// It must register any spawned process with the scheduler's
	// procset.Set itself (the scheduler only calls Run and reports the
	// result).
	Run func(ctx context.Context) Result
}

// Result is what one job produced, per §7's error-kind taxonomy.
type Result struct {
	// SpawnErr is non-nil when the subprocess itself could not be
	// started (§7 SubprocessSpawnFailure) — fatal to the whole build.
	SpawnErr error

	// ExitErr is non-nil when the subprocess ran but exited non-zero
	// (§7 SubprocessNonZeroExit) — non-fatal to scheduling, but the
	// build ultimately reports failure.
	ExitErr error

	// Artifact is the freshly parsed per-file dependency graph, present
	// only for a successful KindCompile job whose artifact parsed
	// cleanly.
	Artifact *depgraph.Graph

	// ArtifactParseErr is non-nil when Artifact could not be parsed;
	// reported as a diagnostic (§7 UnreadableArtifact), the input is
	// scheduled conservatively on the next invocation, but this build's
	// scheduling is otherwise unaffected.
	ArtifactParseErr error
}

// Succeeded reports whether the job completed without a spawn or exit
// error (it may still have a non-fatal artifact parse error).
func (r Result) Succeeded() bool {
	return r.SpawnErr == nil && r.ExitErr == nil
}
