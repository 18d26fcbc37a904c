// Package incstate decides, at the start of a build, whether incremental
// mode may be attempted at all and — if so — which inputs make up the
// first wave (§4.6). It is the glue between BuildRecord, ModuleGraph, and
// Tracer: buildrecord knows nothing of the graph packages and none of the
// three knows about incstate, but IncrementalState drives all three
// together.
package incstate

// CompilerMode mirrors the handful of driver-level modes that interact
// with incremental eligibility; most modes (not listed here) are
// irrelevant to this decision and treated as "ordinary".
type CompilerMode int

const (
	ModeOrdinary CompilerMode = iota
	ModeSingleCompile
	ModePCM
)

// Options is the subset of CLI-derived configuration that affects whether
// incremental mode may be attempted (§6's CLI surface).
type Options struct {
	IncrementalRequested   bool
	Mode                   CompilerMode
	EmbedBitcode           bool
	WholeModuleOptimization bool
	IndexFile              bool
	AlwaysRebuildDependents bool
	ShowIncremental        bool

	HasOutputFileMap   bool
	HasMasterSwiftDeps bool
}

// effectiveMode folds -whole-module-optimization and -index-file into
// ModeSingleCompile, per §6: both force single-compile regardless of the
// caller's stated Mode.
func (o Options) effectiveMode() CompilerMode {
	if o.WholeModuleOptimization || o.IndexFile {
		return ModeSingleCompile
	}
	return o.Mode
}

// Ineligible reports why incremental mode cannot even be attempted, or ""
// if it can. This only covers the CLI/config-derived checks from §4.6;
// BuildRecord read/mismatch failures are reported separately by the
// caller once it has actually tried to read the record (see Attempt).
func (o Options) Ineligible() string {
	switch {
	case !o.IncrementalRequested:
		return "incremental build was not requested"
	case o.effectiveMode() != ModeOrdinary:
		return "compiler mode does not support incremental build"
	case o.EmbedBitcode:
		return "bitcode embedding disables incremental build"
	case !o.HasOutputFileMap:
		return "no output file map was provided"
	case !o.HasMasterSwiftDeps:
		return "no master swiftDeps entry was provided"
	default:
		return ""
	}
}
