package buildrecord

import (
	"fmt"

	"github.com/swincd/driver/internal/vfs"
)

// JobOutcome is what happened to one input's compile job during a build, as
// observed by the scheduler. Ran=false combined with WasSkipped=false
// means the input was never scheduled at all, which callers should not
// construct (there is nothing to derive a status from).
type JobOutcome struct {
	WasSkipped bool

	// Ran is false if the input was skipped; if true, Succeeded and
	// HadIncrementalContext describe the completed (or failed) compile.
	Ran                    bool
	Succeeded              bool
	HadIncrementalContext bool
}

// DeriveStatus implements the write-path rule of §4.5: status per input is
// derived from (was_skipped, job_result). A skipped input with a job
// result is a programmer error.
func DeriveStatus(o JobOutcome) (Status, error) {
	if o.WasSkipped && o.Ran {
		return 0, fmt.Errorf("buildrecord: input was both skipped and run: %+v", o)
	}
	if o.WasSkipped {
		return UpToDate, nil
	}
	if !o.Ran {
		return 0, fmt.Errorf("buildrecord: input was neither skipped nor run: %+v", o)
	}
	if o.Succeeded {
		return UpToDate, nil
	}
	if o.HadIncrementalContext {
		return NeedsNonCascadingBuild, nil
	}
	return NeedsCascadingBuild, nil
}

// Builder accumulates per-input outcomes across a build and produces the
// Record to persist at the end, per §4.5's record lifecycle (written at the
// end of every build that runs to completion, including failures).
type Builder struct {
	SwiftVersion string
	ArgsHash     string
	BuildTime    vfs.Timestamp
	inputs       map[vfs.File]InputInfo
}

func NewBuilder(swiftVersion, argsHash string, buildTime vfs.Timestamp) *Builder {
	return &Builder{SwiftVersion: swiftVersion, ArgsHash: argsHash, BuildTime: buildTime, inputs: make(map[vfs.File]InputInfo)}
}

func (b *Builder) Set(f vfs.File, modTime vfs.Timestamp, outcome JobOutcome) error {
	status, err := DeriveStatus(outcome)
	if err != nil {
		return err
	}
	b.inputs[f] = InputInfo{Status: status, PreviousModTime: modTime}
	return nil
}

func (b *Builder) Build() *Record {
	return &Record{
		SwiftVersion: b.SwiftVersion,
		ArgsHash:     &b.ArgsHash,
		BuildTime:    b.BuildTime,
		Inputs:       b.inputs,
	}
}
