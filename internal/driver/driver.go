// Package driver orchestrates one compiler invocation end to end: it reads
// the prior BuildRecord, rebuilds the ModuleGraph from each input's
// persisted dependency artifact, asks IncrementalState which inputs may be
// skipped, runs the WaveScheduler over the rest, and writes the new
// BuildRecord when the build finishes. It does not know how to spawn a
// compiler subprocess, parse a response file, or resolve a toolchain —
// those belong to the caller (cmd/swincd), which hands driver already-built
// scheduler.Jobs. Grounded on the teacher's cmd/distri/build.go
// top-level orchestration (read state, compute what's stale, schedule,
// persist state), generalized from package builds to per-file compiles.
package driver

import (
	"context"
	"time"

	"golang.org/x/xerrors"

	"github.com/swincd/driver/internal/buildrecord"
	"github.com/swincd/driver/internal/depgraph"
	"github.com/swincd/driver/internal/diag"
	"github.com/swincd/driver/internal/incstate"
	"github.com/swincd/driver/internal/integrator"
	"github.com/swincd/driver/internal/modulegraph"
	"github.com/swincd/driver/internal/procset"
	"github.com/swincd/driver/internal/scheduler"
	"github.com/swincd/driver/internal/vfs"
)

// Options is the subset of CLI-derived configuration the Driver itself
// needs, on top of what incstate.Options already covers.
type Options struct {
	SwiftVersion   string
	ArgsHash       string
	StrictArgsHash bool
	Incremental    incstate.Options
	Workers        int
	RecordFile     vfs.File
}

// BuildInput is one compilation input together with everything Driver
// needs to decide whether it can be skipped and to record its outcome.
type BuildInput struct {
	File           vfs.File
	CurrentModTime vfs.Timestamp
	InterfaceKey   depgraph.DependencyKey
	Outputs        []vfs.File

	// DepsArtifact is the fixed on-disk path for this input's per-file
	// dependency artifact. Driver reads and decodes whatever is there
	// before the build to reconstruct the ModuleGraph; Job is expected to
	// overwrite it (and hand the freshly parsed graph back via
	// Result.Artifact) on a successful compile.
	DepsArtifact vfs.File

	// Job compiles this input. Its Produces/Consumes fields must already be
	// populated by the caller; Driver takes the interface key from the
	// InterfaceKey field above, not from Job.
	Job *scheduler.Job
}

// Driver ties BuildRecord, ModuleGraph, IncrementalState and WaveScheduler
// together for one invocation. It carries no state across invocations
// itself — everything persistent lives in the files Options names.
type Driver struct {
	FS    vfs.FileSystem
	Sink  diag.Sink
	Procs *procset.Set
}

func New(fs vfs.FileSystem, sink diag.Sink, procs *procset.Set) *Driver {
	return &Driver{FS: fs, Sink: sink, Procs: procs}
}

// Run executes one invocation. buildFailed reports a build that ran to
// completion but had at least one failing compile; a non-nil err is always
// fatal (a spawn failure, a job-graph invariant violation, cancellation of
// ctx, or a failure to encode or write the BuildRecord) and means the
// BuildRecord was not rewritten.
func (d *Driver) Run(ctx context.Context, opts Options, precompile []*scheduler.Job, inputs []BuildInput) (buildFailed bool, err error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	buildTime := vfs.FromOS(time.Now())

	record, recordErr := d.readRecord(opts.RecordFile)

	currentInputs := make(map[vfs.File]bool, len(inputs))
	inputByFile := make(map[vfs.File]BuildInput, len(inputs))
	for _, in := range inputs {
		currentInputs[in.File] = true
		inputByFile[in.File] = in
	}

	attempted, reason := incstate.Attempt(opts.Incremental, record, recordErr, opts.SwiftVersion, opts.ArgsHash, currentInputs, opts.StrictArgsHash)
	if !attempted {
		d.Sink.Remark("incremental build not attempted: %s", reason)
	}

	graph := modulegraph.New()
	integ := integrator.New(graph)
	incInputs := make([]incstate.Input, 0, len(inputs))
	for _, in := range inputs {
		incInputs = append(incInputs, incstate.Input{
			File:               in.File,
			CurrentModTime:     in.CurrentModTime,
			InterfaceKey:       in.InterfaceKey,
			Outputs:            in.Outputs,
			DepFileParseFailed: attempted && !d.integratePriorArtifact(integ, in),
		})
	}

	var plan *incstate.Plan
	if attempted {
		plan = incstate.ComputeSkippedInputs(opts.Incremental, incInputs, record, graph, d.FS, d.Sink)
	} else {
		plan = fullRebuildPlan(currentInputs)
	}

	jobsByFile := make(map[vfs.File]*scheduler.Job, len(inputs))
	var firstWave []*scheduler.Job
	firstWave = append(firstWave, precompile...)
	for _, in := range inputs {
		jobsByFile[in.File] = in.Job
		if plan.Scheduled(in.File) {
			firstWave = append(firstWave, in.Job)
		}
	}

	builder := buildrecord.NewBuilder(opts.SwiftVersion, opts.ArgsHash, buildTime)
	recorded := make(map[vfs.File]bool, len(inputs))

	sched := &scheduler.WaveScheduler{
		Graph:          graph,
		Integrator:     integ,
		Procs:          d.Procs,
		Sink:           d.Sink,
		Workers:        workers,
		AllCompileJobs: jobsByFile,
		Skipped:        plan.Skipped,
		OnJobDone: func(j *scheduler.Job, res scheduler.Result) {
			if j.Kind != scheduler.KindCompile {
				return
			}
			in, ok := inputByFile[j.File]
			if !ok {
				return
			}
			recorded[in.File] = true
			outcome := buildrecord.JobOutcome{
				Ran:                   true,
				Succeeded:             res.Succeeded(),
				HadIncrementalContext: attempted,
			}
			if err := builder.Set(in.File, in.CurrentModTime, outcome); err != nil {
				d.Sink.Error("recording build status for %s: %v", in.File, err)
			}
		},
	}

	buildFailed, runErr := sched.Run(ctx, firstWave)
	if runErr != nil {
		// A fatal abort never ran to completion (§4.5): leave the prior
		// BuildRecord on disk untouched rather than persist a partial one.
		return true, runErr
	}

	for _, in := range inputs {
		if recorded[in.File] {
			continue
		}
		if sched.Skipped[in.File] {
			if err := builder.Set(in.File, in.CurrentModTime, buildrecord.JobOutcome{WasSkipped: true}); err != nil {
				d.Sink.Error("recording skip status for %s: %v", in.File, err)
			}
			continue
		}
		// Scheduled but never ran: downstream of a failed producer
		// (§5's markDependentsFailed). Record it as needing a cascading
		// rebuild next time rather than dropping it from the record.
		if err := builder.Set(in.File, in.CurrentModTime, buildrecord.JobOutcome{Ran: true, Succeeded: false}); err != nil {
			d.Sink.Error("recording status for %s: %v", in.File, err)
		}
	}

	rec := builder.Build()
	data, encErr := buildrecord.Encode(rec, rec.ArgsHash)
	if encErr != nil {
		return buildFailed, xerrors.Errorf("driver: encoding build record: %w", encErr)
	}
	if err := d.FS.Write(opts.RecordFile, data); err != nil {
		return buildFailed, xerrors.Errorf("driver: writing build record: %w", err)
	}
	return buildFailed, nil
}

func (d *Driver) readRecord(f vfs.File) (*buildrecord.Record, error) {
	data, err := d.FS.Read(f)
	if err != nil {
		return nil, err
	}
	return buildrecord.Decode(data)
}

// integratePriorArtifact reads and integrates in's persisted dependency
// artifact, if one exists, returning false if it could not be read,
// parsed, or integrated (§4.6 step 4: a malformed prior artifact forces
// scheduling). A missing artifact (e.g. a brand new input) is not an
// error — there is simply nothing to integrate yet.
func (d *Driver) integratePriorArtifact(integ *integrator.Integrator, in BuildInput) bool {
	if !d.FS.Exists(in.DepsArtifact) {
		return true
	}
	data, err := d.FS.Read(in.DepsArtifact)
	if err != nil {
		d.Sink.Warning("reading dependency artifact for %s: %v", in.File, err)
		return false
	}
	parsed, err := depgraph.Decode(data)
	if err != nil {
		d.Sink.Warning("parsing dependency artifact for %s: %v", in.File, err)
		return false
	}
	if _, err := integ.Integrate(in.File, parsed); err != nil {
		d.Sink.Error("integrating dependency artifact for %s: %v", in.File, err)
		return false
	}
	return true
}

// fullRebuildPlan is the degenerate Plan used when incremental mode could
// not even be attempted (§4.6 entry check): every input is mandatory,
// nothing is skipped or speculative.
func fullRebuildPlan(currentInputs map[vfs.File]bool) *incstate.Plan {
	plan := &incstate.Plan{
		Mandatory:   make(map[vfs.File]bool, len(currentInputs)),
		Speculative: make(map[vfs.File]bool),
		Skipped:     make(map[vfs.File]bool),
	}
	for f := range currentInputs {
		plan.Mandatory[f] = true
	}
	return plan
}
