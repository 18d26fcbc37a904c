// Command swincd is a thin CLI wrapper around internal/driver: it parses
// flags, loads an output file map, spawns one compiler-frontend subprocess
// per input, and reports the result. Flag parsing, toolchain resolution,
// and the subprocess I/O pump all live here rather than in internal/driver
// on purpose — the incremental core never touches a flag or a pipe.
// Grounded on cmd/distri/distri.go's funcmain/flag.NewFlagSet style and
// cmd/distri/batch.go's -jobs flag.
package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"sort"
	"syscall"

	"golang.org/x/xerrors"

	"github.com/swincd/driver/internal/depgraph"
	"github.com/swincd/driver/internal/diag"
	"github.com/swincd/driver/internal/driver"
	"github.com/swincd/driver/internal/incstate"
	"github.com/swincd/driver/internal/procset"
	"github.com/swincd/driver/internal/scheduler"
	"github.com/swincd/driver/internal/vfs"
)

const usage = `swincd [-flags] <input.swift>...

Compile one or more Swift-style source files, optionally incrementally.

Example:
  % swincd -incremental -output-file-map ofm.json -frontend swift-frontend a.swift b.swift
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	fset := flag.NewFlagSet("swincd", flag.ExitOnError)
	fset.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fset.PrintDefaults()
	}
	var (
		incremental             = fset.Bool("incremental", false, "attempt an incremental build")
		showIncremental         = fset.Bool("driver-show-incremental", false, "print verbose incremental scheduling decisions")
		alwaysRebuildDependents = fset.Bool("driver-always-rebuild-dependents", false, "force the speculative cascade on every changed input, not just ones needing a cascading build")
		strictArgsHash          = fset.Bool("driver-strict-args-hash", false, "treat a build record with no recorded args_hash as a mismatch instead of as a match")
		embedBitcode            = fset.Bool("embed-bitcode", false, "embed bitcode in compiled outputs (disables incremental build)")
		wmo                     = fset.Bool("whole-module-optimization", false, "compile the whole module in one job (disables incremental build)")
		indexFile               = fset.Bool("index-file", false, "emit an index store instead of object code (disables incremental build)")
		jobs                    = fset.Int("j", runtime.NumCPU(), "number of parallel compile jobs to run")
		outputFileMapPath       = fset.String("output-file-map", "", "path to a JSON file mapping each input to its declared outputs")
		swiftVersion            = fset.String("swift-version", "unknown", "compiler version string recorded in the build record")
		frontend                = fset.String("frontend", "", "path to the compiler frontend executable invoked once per input")
		recordPath              = fset.String("driver-record", ".swincd-build-record", "path to the persisted build record")
		ctraceFile              = fset.String("driver-trace", "", "path to write a chrome://tracing-compatible verbose incremental decision trace")
	)
	fset.Parse(os.Args[1:])

	inputPaths := fset.Args()
	if len(inputPaths) == 0 {
		fset.Usage()
		os.Exit(2)
	}
	if *frontend == "" {
		return xerrors.Errorf("swincd: -frontend is required")
	}

	sink, closeSink, err := buildSink(*ctraceFile, *showIncremental)
	if err != nil {
		return err
	}
	defer closeSink()

	ofm, err := loadOutputFileMap(*outputFileMapPath)
	if err != nil {
		return xerrors.Errorf("swincd: %w", err)
	}

	fs := vfs.OS{}
	procs := &procset.Set{}

	ctx, cancel := interruptibleContext()
	defer cancel()

	argsHash := computeArgsHash(*incremental, *embedBitcode, *wmo, *indexFile, *alwaysRebuildDependents)

	opts := driver.Options{
		SwiftVersion:   *swiftVersion,
		ArgsHash:       argsHash,
		StrictArgsHash: *strictArgsHash,
		Incremental: incstate.Options{
			IncrementalRequested:    *incremental,
			Mode:                    incstate.ModeOrdinary,
			EmbedBitcode:            *embedBitcode,
			WholeModuleOptimization: *wmo,
			IndexFile:               *indexFile,
			AlwaysRebuildDependents: *alwaysRebuildDependents,
			ShowIncremental:         *showIncremental,
			HasOutputFileMap:        ofm != nil,
			HasMasterSwiftDeps:      ofm.hasMaster(),
		},
		Workers:    *jobs,
		RecordFile: vfs.File{Path: *recordPath},
	}

	inputs := make([]driver.BuildInput, 0, len(inputPaths))
	for i, path := range inputPaths {
		file := vfs.File{Path: path}
		modTime, err := fs.ModTime(file)
		if err != nil {
			return xerrors.Errorf("swincd: %s: %w", path, err)
		}
		ifaceKey, err := depgraph.SourceFileProvide(depgraph.Interface, path)
		if err != nil {
			return err
		}
		deps := vfs.File{Path: ofm.swiftDeps(path)}
		inputs = append(inputs, driver.BuildInput{
			File:           file,
			CurrentModTime: modTime,
			InterfaceKey:   ifaceKey,
			Outputs:        ofm.outputs(path),
			DepsArtifact:   deps,
			Job:            compileJob(int64(i+1), *frontend, file, deps, ofm.outputs(path), fs, procs),
		})
	}

	d := driver.New(fs, sink, procs)
	buildFailed, err := d.Run(ctx, opts, nil, inputs)
	if err != nil {
		return err
	}
	if buildFailed {
		os.Exit(1)
	}
	return nil
}

// compileJob builds the scheduler.Job that spawns the frontend for one
// input, registers the subprocess with procs so a build-wide abort can
// kill it, and decodes the dependency artifact it is expected to leave
// behind at deps on success.
func compileJob(id int64, frontend string, file, deps vfs.File, outputs []vfs.File, fs vfs.FileSystem, procs *procset.Set) *scheduler.Job {
	return &scheduler.Job{
		ID:       id,
		File:     file,
		Kind:     scheduler.KindCompile,
		Produces: append(append([]vfs.File{}, outputs...), deps),
		Consumes: []vfs.File{file},
		Run: func(ctx context.Context) scheduler.Result {
			args := []string{"-c", file.Path, "-output-file-map-entry", deps.Path}
			cmd := exec.CommandContext(ctx, frontend, args...)
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			if err := cmd.Start(); err != nil {
				return scheduler.Result{SpawnErr: err}
			}
			token, stillLive := procs.Add(execProc{cmd})
			defer procs.Remove(token)
			if !stillLive {
				return scheduler.Result{SpawnErr: xerrors.Errorf("%s: build aborted before the subprocess could run", file.Path)}
			}
			if err := cmd.Wait(); err != nil {
				return scheduler.Result{ExitErr: xerrors.Errorf("%s: %w: %s", file.Path, err, stderr.String())}
			}
			data, err := fs.Read(deps)
			if err != nil {
				return scheduler.Result{ArtifactParseErr: err}
			}
			artifact, err := depgraph.Decode(data)
			if err != nil {
				return scheduler.Result{ArtifactParseErr: err}
			}
			return scheduler.Result{Artifact: artifact}
		},
	}
}

// execProc adapts *exec.Cmd to procset.Proc.
type execProc struct{ cmd *exec.Cmd }

func (p execProc) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func newStderrLogger() *log.Logger {
	return log.New(os.Stderr, "", 0)
}

func buildSink(ctraceFile string, verbose bool) (diag.Sink, func(), error) {
	logs := diag.NewLogSink(newStderrLogger(), verbose)
	if ctraceFile == "" {
		return logs, func() {}, nil
	}
	f, err := os.Create(ctraceFile)
	if err != nil {
		return nil, nil, xerrors.Errorf("swincd: -driver-trace: %w", err)
	}
	return diag.NewChromeTraceSink(logs, f), func() { f.Close() }, nil
}

// outputFileMap is the parsed form of the -output-file-map JSON document:
// input path -> output kind -> output path, with the distinguished ""
// input holding the module-wide entries (in particular the master
// swiftDeps file incremental mode requires).
type outputFileMap map[string]map[string]string

func loadOutputFileMap(path string) (outputFileMap, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m outputFileMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, xerrors.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

func (m outputFileMap) hasMaster() bool {
	if m == nil {
		return false
	}
	entry, ok := m[""]
	if !ok {
		return false
	}
	_, ok = entry["swift-dependencies"]
	return ok
}

func (m outputFileMap) outputs(input string) []vfs.File {
	if m == nil {
		return nil
	}
	entry, ok := m[input]
	if !ok {
		return nil
	}
	var out []vfs.File
	if obj, ok := entry["object"]; ok {
		out = append(out, vfs.File{Path: obj})
	}
	return out
}

func (m outputFileMap) swiftDeps(input string) string {
	if m != nil {
		if entry, ok := m[input]; ok {
			if d, ok := entry["swift-dependencies"]; ok {
				return d
			}
		}
	}
	return input + ".swiftdeps"
}

// computeArgsHash hashes the sorted spellings of the flags that affect
// incremental output, excluding the input list itself (spec's args_hash
// definition) and excluding flags like -driver-show-incremental or -j that
// change diagnostics or parallelism but never the compiled output.
func computeArgsHash(incremental, embedBitcode, wmo, indexFile, alwaysRebuildDependents bool) string {
	var spellings []string
	add := func(set bool, spelling string) {
		if set {
			spellings = append(spellings, spelling)
		}
	}
	add(incremental, "-incremental")
	add(embedBitcode, "-embed-bitcode")
	add(wmo, "-whole-module-optimization")
	add(indexFile, "-index-file")
	add(alwaysRebuildDependents, "-driver-always-rebuild-dependents")
	sort.Strings(spellings)

	h := sha256.New()
	for _, s := range spellings {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// interruptibleContext mirrors distri.InterruptibleContext: a context
// canceled on SIGINT/SIGTERM, so an in-flight build tears down its
// subprocesses instead of leaving them orphaned.
func interruptibleContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		signal.Stop(sig)
		cancel()
	}()
	return ctx, cancel
}
