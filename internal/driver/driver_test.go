package driver

import (
	"context"
	"testing"

	"github.com/swincd/driver/internal/buildrecord"
	"github.com/swincd/driver/internal/depgraph"
	"github.com/swincd/driver/internal/diag"
	"github.com/swincd/driver/internal/incstate"
	"github.com/swincd/driver/internal/procset"
	"github.com/swincd/driver/internal/scheduler"
	"github.com/swincd/driver/internal/vfs"
)

// memFS is a minimal in-memory vfs.FileSystem for driver tests: real
// byte storage, no mtime semantics beyond what a test wires in explicitly.
type memFS struct {
	files map[string][]byte
}

func newMemFS() *memFS { return &memFS{files: map[string][]byte{}} }

func (f *memFS) Exists(file vfs.File) bool { _, ok := f.files[file.Path]; return ok }
func (f *memFS) ModTime(vfs.File) (vfs.Timestamp, error) { return vfs.Timestamp{}, nil }
func (f *memFS) Read(file vfs.File) ([]byte, error) {
	data, ok := f.files[file.Path]
	if !ok {
		return nil, errNotExist{file.Path}
	}
	return data, nil
}
func (f *memFS) Write(file vfs.File, data []byte) error {
	f.files[file.Path] = append([]byte(nil), data...)
	return nil
}

type errNotExist struct{ path string }

func (e errNotExist) Error() string { return e.path + ": no such file" }

// TestRunFullRebuildWhenIncrementalNotRequested exercises the degenerate
// path where incstate.Attempt always fails (incremental was never
// requested): every input must run, and a fresh record is still written.
func TestRunFullRebuildWhenIncrementalNotRequested(t *testing.T) {
	fs := newMemFS()
	d := New(fs, diag.Discard, &procset.Set{})

	aFile := vfs.File{Path: "a.swift"}
	ran := false
	job := &scheduler.Job{
		ID:   1,
		File: aFile,
		Kind: scheduler.KindCompile,
		Run: func(ctx context.Context) scheduler.Result {
			ran = true
			return scheduler.Result{}
		},
	}

	opts := Options{
		SwiftVersion: "5.9",
		ArgsHash:     "h1",
		Incremental:  incstate.Options{}, // IncrementalRequested: false
		Workers:      2,
		RecordFile:   vfs.File{Path: "build.record"},
	}
	inputs := []BuildInput{
		{File: aFile, CurrentModTime: vfs.Timestamp{Seconds: 5}, Job: job, DepsArtifact: vfs.File{Path: "a.swiftdeps"}},
	}

	buildFailed, err := d.Run(context.Background(), opts, nil, inputs)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if buildFailed {
		t.Fatal("expected buildFailed=false")
	}
	if !ran {
		t.Fatal("expected the only input to have run when incremental mode isn't requested")
	}

	data, err := fs.Read(opts.RecordFile)
	if err != nil {
		t.Fatalf("expected a build record to have been written: %v", err)
	}
	rec, err := buildrecord.Decode(data)
	if err != nil {
		t.Fatalf("written record did not decode: %v", err)
	}
	if rec.SwiftVersion != "5.9" {
		t.Errorf("expected swift version 5.9, got %q", rec.SwiftVersion)
	}
	info, ok := rec.Inputs[aFile]
	if !ok {
		t.Fatal("expected a.swift to be present in the new record")
	}
	if info.Status != buildrecord.UpToDate {
		t.Errorf("expected a.swift to be recorded up to date after a successful run, got %v", info.Status)
	}
}

// TestRunIncrementalSkipsUpToDateInput builds a prior record + prior
// artifact that make the one input eligible to be skipped entirely.
func TestRunIncrementalSkipsUpToDateInput(t *testing.T) {
	fs := newMemFS()
	d := New(fs, diag.Discard, &procset.Set{})

	aFile := vfs.File{Path: "a.swift"}
	aIfaceProvide, err := depgraph.SourceFileProvide(depgraph.Interface, "a.swift")
	if err != nil {
		t.Fatal(err)
	}
	aImplProvide, err := depgraph.SourceFileProvide(depgraph.Implementation, "a.swift")
	if err != nil {
		t.Fatal(err)
	}
	aOut := vfs.File{Path: "a.o"}
	aDeps := vfs.File{Path: "a.swiftdeps"}

	fp := "fp1"
	artifact, err := depgraph.Encode(&depgraph.Graph{
		CompilerVersion: "5.9",
		Nodes: []depgraph.Node{
			{Sequence: 0, Key: aIfaceProvide, Fingerprint: &fp, IsProvides: true},
			{Sequence: 1, Key: aImplProvide, IsProvides: true},
		},
	})
	if err != nil {
		t.Fatalf("encoding fixture artifact: %v", err)
	}
	if err := fs.Write(aDeps, artifact); err != nil {
		t.Fatal(err)
	}
	if err := fs.Write(aOut, []byte("object")); err != nil {
		t.Fatal(err)
	}

	modTime := vfs.Timestamp{Seconds: 100}
	prior := &buildrecord.Record{
		SwiftVersion: "5.9",
		ArgsHash:     strPtr("h1"),
		Inputs: map[vfs.File]buildrecord.InputInfo{
			aFile: {Status: buildrecord.UpToDate, PreviousModTime: modTime},
		},
	}
	recData, err := buildrecord.Encode(prior, prior.ArgsHash)
	if err != nil {
		t.Fatal(err)
	}
	recordFile := vfs.File{Path: "build.record"}
	if err := fs.Write(recordFile, recData); err != nil {
		t.Fatal(err)
	}

	ran := false
	job := &scheduler.Job{
		ID:   1,
		File: aFile,
		Kind: scheduler.KindCompile,
		Run: func(ctx context.Context) scheduler.Result {
			ran = true
			return scheduler.Result{}
		},
	}

	opts := Options{
		SwiftVersion: "5.9",
		ArgsHash:     "h1",
		Incremental: incstate.Options{
			IncrementalRequested: true,
			HasOutputFileMap:     true,
			HasMasterSwiftDeps:   true,
		},
		Workers:    1,
		RecordFile: recordFile,
	}
	inputs := []BuildInput{
		{
			File:           aFile,
			CurrentModTime: modTime,
			InterfaceKey:   aIfaceProvide,
			Outputs:        []vfs.File{aOut},
			DepsArtifact:   aDeps,
			Job:            job,
		},
	}

	buildFailed, err := d.Run(context.Background(), opts, nil, inputs)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if buildFailed {
		t.Fatal("expected buildFailed=false")
	}
	if ran {
		t.Fatal("expected the up-to-date input to be skipped, not run")
	}
}

func strPtr(s string) *string { return &s }
