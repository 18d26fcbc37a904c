package incstate

import (
	"github.com/swincd/driver/internal/buildrecord"
	"github.com/swincd/driver/internal/depgraph"
	"github.com/swincd/driver/internal/diag"
	"github.com/swincd/driver/internal/modulegraph"
	"github.com/swincd/driver/internal/tracer"
	"github.com/swincd/driver/internal/vfs"
)

// Input describes one compilation input as of the start of a build — the
// facts ComputeSkippedInputs needs that don't live in the ModuleGraph or
// BuildRecord.
type Input struct {
	File vfs.File

	// CurrentModTime is read fresh from the file system at plan time.
	CurrentModTime vfs.Timestamp

	// InterfaceKey is the DependencyKey Tracer should seed from when this
	// file's status calls for a cascading (speculative) rebuild.
	InterfaceKey depgraph.DependencyKey

	// Outputs are this input's declared outputs per the output file map;
	// any that doesn't exist on disk forces scheduling (§4.6 step 3).
	Outputs []vfs.File

	// DepFileParseFailed is true when the prior per-file artifact for this
	// input could not be parsed this session (§4.6 step 4).
	DepFileParseFailed bool
}

// Plan is the result of ComputeSkippedInputs: the first-wave / skipped
// partition of the input set (§4.6 steps 5-7).
type Plan struct {
	// Mandatory is the definitely-required set (steps 1-4): every input
	// that must run in the first wave regardless of cascade.
	Mandatory map[vfs.File]bool

	// Speculative is the cascade set added on top of Mandatory (step 6).
	// Disjoint from Mandatory by construction (step 6 only adds files not
	// already in step 5's union).
	Speculative map[vfs.File]bool

	// Skipped is every other input (step 7).
	Skipped map[vfs.File]bool
}

// Scheduled reports whether f must run in the first wave, i.e. it is in
// either Mandatory or Speculative.
func (p *Plan) Scheduled(f vfs.File) bool {
	return p.Mandatory[f] || p.Speculative[f]
}

func newPlan() *Plan {
	return &Plan{
		Mandatory:   make(map[vfs.File]bool),
		Speculative: make(map[vfs.File]bool),
		Skipped:     make(map[vfs.File]bool),
	}
}

// Attempt decides whether incremental mode may proceed at all, per §4.6's
// entry short-circuit. It folds in the BuildRecord read/mismatch checks
// that Options.Ineligible can't see on its own. reason is "" iff ok is
// true.
func Attempt(opts Options, record *buildrecord.Record, recordReadErr error, swiftVersion, argsHash string, currentInputs map[vfs.File]bool, strictArgsHash bool) (ok bool, reason string) {
	if r := opts.Ineligible(); r != "" {
		return false, r
	}
	if recordReadErr != nil {
		return false, "build record could not be read: " + recordReadErr.Error()
	}
	if r := buildrecord.MismatchReason(record, swiftVersion, argsHash, currentInputs, strictArgsHash); r != "" {
		return false, r
	}
	return true, ""
}

// ComputeSkippedInputs implements compute_skipped_inputs (§4.6 steps 1-7).
// inputs is every compilation input for this invocation; record is the
// validated prior BuildRecord; graph is the ModuleGraph built by running
// Integrator over every previously recorded per-file artifact; fs answers
// the existence checks of step 3 (§9's capability-injection rule: no
// global filesystem). sink receives one Trace event per scheduling
// decision (schedule/cascade/skip), the `-driver-show-incremental`
// verbose log of why a given invocation recompiled or skipped a file.
func ComputeSkippedInputs(opts Options, inputs []Input, record *buildrecord.Record, graph *modulegraph.Graph, fs vfs.FileSystem, sink diag.Sink) *Plan {
	plan := newPlan()
	all := make(map[vfs.File]bool, len(inputs))
	byFile := make(map[vfs.File]Input, len(inputs))
	for _, in := range inputs {
		all[in.File] = true
		byFile[in.File] = in
	}

	cascading := make(map[vfs.File]bool)

	// Step 1: changed inputs, classified by previous status.
	for _, in := range inputs {
		prev, known := record.Inputs[in.File]
		if !known {
			plan.Mandatory[in.File] = true
			cascading[in.File] = true
			sink.Trace("schedule", diag.F("file", in.File.Path), diag.F("reason", "not present in the previous build record"))
			continue
		}
		sameTime := prev.PreviousModTime == in.CurrentModTime
		if sameTime && prev.Status == buildrecord.UpToDate {
			continue // may be skipped, pending steps 2-4
		}
		switch prev.Status {
		case buildrecord.UpToDate:
			plan.Mandatory[in.File] = true
			sink.Trace("schedule", diag.F("file", in.File.Path), diag.F("reason", "modification time changed since the last up-to-date build"))
		case buildrecord.NewlyAdded:
			plan.Mandatory[in.File] = true
			cascading[in.File] = true
			sink.Trace("schedule", diag.F("file", in.File.Path), diag.F("reason", "newly added since the last build"))
		case buildrecord.NeedsCascadingBuild:
			plan.Mandatory[in.File] = true
			cascading[in.File] = true
			sink.Trace("schedule", diag.F("file", in.File.Path), diag.F("reason", "carried over needs-cascading-build status"))
		case buildrecord.NeedsNonCascadingBuild:
			plan.Mandatory[in.File] = true
			sink.Trace("schedule", diag.F("file", in.File.Path), diag.F("reason", "carried over needs-non-cascading-build status"))
		}
	}

	// Step 2: externally-dependent inputs. An external_depend key's name
	// is the referenced (non-input) file's path; if that file's current
	// mtime is at or after the last build, every untraced direct user is
	// scheduled.
	for filename := range graph.ExternalDependencies() {
		in, isOwnInput := byFile[vfs.File{Path: filename}]
		var mtime vfs.Timestamp
		if isOwnInput {
			mtime = in.CurrentModTime
		} else {
			m, err := fs.ModTime(vfs.File{Path: filename})
			if err != nil {
				continue
			}
			mtime = m
		}
		if mtime.Before(record.BuildTime) {
			continue
		}
		key, err := depgraph.ExternalDepend(filename)
		if err != nil {
			continue
		}
		for _, use := range graph.UsesOf(key) {
			if graph.IsTraced(use.Handle()) {
				continue
			}
			if use.SourceFile.Valid {
				plan.Mandatory[use.SourceFile.File] = true
				sink.Trace("schedule", diag.F("file", use.SourceFile.File.Path), diag.F("reason", "external dependency "+filename+" changed"))
			}
		}
	}

	// Step 3: inputs missing declared outputs.
	for _, in := range inputs {
		for _, out := range in.Outputs {
			if !fs.Exists(out) {
				plan.Mandatory[in.File] = true
				sink.Trace("schedule", diag.F("file", in.File.Path), diag.F("reason", "declared output "+out.Path+" is missing"))
				break
			}
		}
	}

	// Step 4: malformed prior dep files.
	for _, in := range inputs {
		if in.DepFileParseFailed {
			plan.Mandatory[in.File] = true
			sink.Trace("schedule", diag.F("file", in.File.Path), diag.F("reason", "previous dependency artifact failed to parse"))
		}
	}

	// Step 6: speculative (cascade) set, seeded from step 1's cascading
	// files (or every file, if always_rebuild_dependents forces it).
	t := tracer.New(graph)
	var seeds []*modulegraph.Node
	for _, in := range inputs {
		if !cascading[in.File] && !opts.AlwaysRebuildDependents {
			continue
		}
		if n, ok := graph.Find(modulegraph.Owner(in.File), in.InterfaceKey); ok {
			seeds = append(seeds, n)
		}
	}
	if len(seeds) > 0 {
		visited, _ := t.Trace(seeds)
		for _, ref := range tracer.AffectedFiles(visited) {
			if !ref.Valid {
				continue
			}
			if !plan.Mandatory[ref.File] {
				plan.Speculative[ref.File] = true
				sink.Trace("cascade", diag.F("file", ref.File.Path), diag.F("reason", "transitively affected by a changed interface"))
			}
		}
	}

	// Step 7: everything else is skipped.
	for f := range all {
		if !plan.Mandatory[f] && !plan.Speculative[f] {
			plan.Skipped[f] = true
			sink.Trace("skip", diag.F("file", f.Path))
		}
	}

	return plan
}
