package buildrecord

import (
	"fmt"
	"sort"

	"github.com/swincd/driver/internal/vfs"
)

// MismatchReason returns a human-readable explanation of why the previous
// Record no longer applies to the current invocation, or "" if it still
// applies (§4.5). currentArgsHash is this invocation's hash of the
// incremental-affecting flags; currentInputs is the full current input
// set.
//
// A missing args_hash in the prior record is treated as "still matches"
// (the legacy driver's behavior, preserved per spec §9's open question);
// set strictArgsHash to tighten that.
func MismatchReason(r *Record, swiftVersion string, currentArgsHash string, currentInputs map[vfs.File]bool, strictArgsHash bool) string {
	if r.SwiftVersion != swiftVersion {
		return fmt.Sprintf("compiler version has changed from %s to %s", r.SwiftVersion, swiftVersion)
	}
	if r.ArgsHash != nil && *r.ArgsHash != currentArgsHash {
		return "different arguments"
	}
	if r.ArgsHash == nil && strictArgsHash {
		return "different arguments"
	}

	var missing []vfs.File
	for f := range r.Inputs {
		if !currentInputs[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i].Path < missing[j].Path })
		return fmt.Sprintf("inputs used previously but not now: %s", joinPaths(missing))
	}
	return ""
}

func joinPaths(files []vfs.File) string {
	out := ""
	for i, f := range files {
		if i > 0 {
			out += ", "
		}
		out += f.Path
	}
	return out
}
