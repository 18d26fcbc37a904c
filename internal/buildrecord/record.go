// Package buildrecord persists and parses the prior invocation's
// fingerprint of inputs, arguments, and compiler version (§4.5). It is the
// thing IncrementalState consults, alongside the ModuleGraph and current
// file modification times, to decide what must be rebuilt.
package buildrecord

import "github.com/swincd/driver/internal/vfs"

// Status is one input's classification as of the last completed build.
type Status int

const (
	UpToDate Status = iota
	NeedsCascadingBuild
	NeedsNonCascadingBuild
	NewlyAdded
)

func (s Status) String() string {
	switch s {
	case UpToDate:
		return "upToDate"
	case NeedsCascadingBuild:
		return "needsCascadingBuild"
	case NeedsNonCascadingBuild:
		return "needsNonCascadingBuild"
	case NewlyAdded:
		return "newlyAdded"
	default:
		return "unknown"
	}
}

// InputInfo is one input's persisted status and previous modification time.
type InputInfo struct {
	Status           Status
	PreviousModTime  vfs.Timestamp
}

// Record is the full persisted document (§4.5, §6): exactly four top-level
// fields.
type Record struct {
	SwiftVersion string
	ArgsHash     *string // nil: absent from the document
	BuildTime    vfs.Timestamp
	Inputs       map[vfs.File]InputInfo
}
