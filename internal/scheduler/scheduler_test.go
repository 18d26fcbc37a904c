package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/swincd/driver/internal/depgraph"
	"github.com/swincd/driver/internal/diag"
	"github.com/swincd/driver/internal/integrator"
	"github.com/swincd/driver/internal/modulegraph"
	"github.com/swincd/driver/internal/procset"
	"github.com/swincd/driver/internal/vfs"
)

func key(t *testing.T, name string) depgraph.DependencyKey {
	k, err := depgraph.TopLevel(depgraph.Interface, name)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestRunExecutesIndependentJobsAndReportsNoFailure(t *testing.T) {
	g := modulegraph.New()
	sched := &WaveScheduler{
		Graph:          g,
		Integrator:     integrator.New(g),
		Procs:          &procset.Set{},
		Sink:           diag.Discard,
		Workers:        2,
		AllCompileJobs: map[vfs.File]*Job{},
		Skipped:        map[vfs.File]bool{},
	}

	var mu sync.Mutex
	var ran []string
	mk := func(id int64, name string) *Job {
		return &Job{
			ID:   id,
			File: vfs.File{Path: name},
			Kind: KindCompile,
			Run: func(ctx context.Context) Result {
				mu.Lock()
				ran = append(ran, name)
				mu.Unlock()
				return Result{}
			},
		}
	}
	jobs := []*Job{mk(1, "a.swift"), mk(2, "b.swift")}

	buildFailed, err := sched.Run(context.Background(), jobs)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if buildFailed {
		t.Fatal("expected buildFailed=false")
	}
	if len(ran) != 2 {
		t.Fatalf("expected both jobs to run, got %v", ran)
	}
}

func TestRunSecondWavePromotesSkippedInput(t *testing.T) {
	g := modulegraph.New()
	integ := integrator.New(g)

	aIface := key(t, "A")
	aFile := vfs.File{Path: "a.swift"}
	bFile := vfs.File{Path: "b.swift"}

	fp1 := "v1"
	if _, err := integ.Integrate(aFile, &depgraph.Graph{
		Nodes: []depgraph.Node{{Sequence: 0, Key: aIface, Fingerprint: &fp1, IsProvides: true}},
	}); err != nil {
		t.Fatal(err)
	}
	bKey := key(t, "B")
	if _, err := integ.Integrate(bFile, &depgraph.Graph{
		Nodes: []depgraph.Node{
			{Sequence: 0, Key: bKey, IsProvides: true, Uses: []uint32{1}},
			{Sequence: 1, Key: aIface, IsProvides: false},
		},
	}); err != nil {
		t.Fatal(err)
	}

	ranB := make(chan struct{}, 1)
	bJob := &Job{
		ID:   2,
		File: bFile,
		Kind: KindCompile,
		Run: func(ctx context.Context) Result {
			ranB <- struct{}{}
			return Result{}
		},
	}

	fp2 := "v2" // a's fingerprint changed: this is what should trigger the cascade
	aJob := &Job{
		ID:   1,
		File: aFile,
		Kind: KindCompile,
		Run: func(ctx context.Context) Result {
			return Result{Artifact: &depgraph.Graph{
				Nodes: []depgraph.Node{{Sequence: 0, Key: aIface, Fingerprint: &fp2, IsProvides: true}},
			}}
		},
	}

	sched := &WaveScheduler{
		Graph:      g,
		Integrator: integ,
		Procs:      &procset.Set{},
		Sink:       diag.Discard,
		Workers:    1,
		AllCompileJobs: map[vfs.File]*Job{
			aFile: aJob,
			bFile: bJob,
		},
		Skipped: map[vfs.File]bool{bFile: true},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	buildFailed, err := sched.Run(ctx, []*Job{aJob})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if buildFailed {
		t.Fatal("expected buildFailed=false")
	}
	select {
	case <-ranB:
	default:
		t.Fatal("expected b.swift's job to have been promoted and run")
	}
	if sched.Skipped[bFile] {
		t.Error("expected b.swift to have been removed from the skipped pool")
	}
}

// fatalRecordingSink wraps diag.Discard, recording every Fatal call so
// tests can assert the GraphInvariantViolation severity contract
// (internal/diag.Sink's documented Fatal codepath) is actually exercised.
type fatalRecordingSink struct {
	diag.Sink
	fatals []string
}

func (s *fatalRecordingSink) Fatal(format string, args ...interface{}) {
	s.fatals = append(s.fatals, fmt.Sprintf(format, args...))
}

func TestBuildJobGraphDetectsCycle(t *testing.T) {
	fileX := vfs.File{Path: "x.o"}
	fileY := vfs.File{Path: "y.o"}
	jobA := &Job{ID: 1, File: vfs.File{Path: "a.swift"}, Produces: []vfs.File{fileX}, Consumes: []vfs.File{fileY}}
	jobB := &Job{ID: 2, File: vfs.File{Path: "b.swift"}, Produces: []vfs.File{fileY}, Consumes: []vfs.File{fileX}}

	sink := &fatalRecordingSink{Sink: diag.Discard}
	if _, err := buildJobGraph([]*Job{jobA, jobB}, sink); err == nil {
		t.Fatal("expected a cyclic Produces/Consumes pair to be rejected as a GraphInvariantViolation")
	}
	if len(sink.fatals) != 1 {
		t.Fatalf("expected exactly one Sink.Fatal call, got %d: %v", len(sink.fatals), sink.fatals)
	}
}

func TestRunReportsSubprocessExitFailureWithoutFatalError(t *testing.T) {
	g := modulegraph.New()
	sched := &WaveScheduler{
		Graph:          g,
		Integrator:     integrator.New(g),
		Procs:          &procset.Set{},
		Sink:           diag.Discard,
		Workers:        1,
		AllCompileJobs: map[vfs.File]*Job{},
		Skipped:        map[vfs.File]bool{},
	}
	j := &Job{
		ID:   1,
		File: vfs.File{Path: "broken.swift"},
		Kind: KindCompile,
		Run: func(ctx context.Context) Result {
			return Result{ExitErr: context.DeadlineExceeded}
		},
	}
	buildFailed, err := sched.Run(context.Background(), []*Job{j})
	if err != nil {
		t.Fatalf("a non-zero exit must not be a fatal scheduler error, got %v", err)
	}
	if !buildFailed {
		t.Fatal("expected buildFailed=true")
	}
}
