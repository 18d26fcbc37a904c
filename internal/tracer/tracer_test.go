package tracer

import (
	"testing"

	"github.com/swincd/driver/internal/depgraph"
	"github.com/swincd/driver/internal/integrator"
	"github.com/swincd/driver/internal/modulegraph"
	"github.com/swincd/driver/internal/vfs"
)

// buildABC wires up a module graph where b.swift and c.swift both depend on
// a.swift's top-level "foo".
func buildABC(t *testing.T) (*modulegraph.Graph, *modulegraph.Node) {
	t.Helper()
	mg := modulegraph.New()
	in := integrator.New(mg)

	topLevel, _ := depgraph.TopLevel(depgraph.Interface, "foo")

	mkProvider := func(file string) *depgraph.Graph {
		iface, _ := depgraph.SourceFileProvide(depgraph.Interface, file)
		impl, _ := depgraph.SourceFileProvide(depgraph.Implementation, file)
		fp := "fp"
		return &depgraph.Graph{
			CompilerVersion: "t",
			Nodes: []depgraph.Node{
				{Key: iface, Sequence: 0, IsProvides: true},
				{Key: impl, Sequence: 1, IsProvides: true},
				{Key: topLevel, Sequence: 2, IsProvides: true, Fingerprint: &fp},
			},
		}
	}
	mkUser := func(file string) *depgraph.Graph {
		iface, _ := depgraph.SourceFileProvide(depgraph.Interface, file)
		impl, _ := depgraph.SourceFileProvide(depgraph.Implementation, file)
		return &depgraph.Graph{
			CompilerVersion: "t",
			Nodes: []depgraph.Node{
				{Key: iface, Sequence: 0, IsProvides: true, Uses: []uint32{2}},
				{Key: impl, Sequence: 1, IsProvides: true},
				{Key: topLevel, Sequence: 2, IsProvides: false},
			},
		}
	}

	if _, err := in.Integrate(vfs.File{Path: "a.swift"}, mkProvider("a.swift")); err != nil {
		t.Fatal(err)
	}
	if _, err := in.Integrate(vfs.File{Path: "b.swift"}, mkUser("b.swift")); err != nil {
		t.Fatal(err)
	}
	if _, err := in.Integrate(vfs.File{Path: "c.swift"}, mkUser("c.swift")); err != nil {
		t.Fatal(err)
	}

	seed, ok := mg.Find(modulegraph.Owner(vfs.File{Path: "a.swift"}), topLevel)
	if !ok {
		t.Fatal("seed node not found")
	}
	return mg, seed
}

func TestTraceReachesAllUsers(t *testing.T) {
	mg, seed := buildABC(t)
	tr := New(mg)
	visited, _ := tr.Trace([]*modulegraph.Node{seed})

	files := AffectedFiles(visited)
	want := map[string]bool{"a.swift": true, "b.swift": true, "c.swift": true}
	if len(files) != len(want) {
		t.Fatalf("got %d affected files, want %d: %v", len(files), len(want), files)
	}
	for _, f := range files {
		if !want[f.File.Path] {
			t.Errorf("unexpected affected file %v", f)
		}
	}
}

func TestTraceIdempotentWithinSession(t *testing.T) {
	mg, seed := buildABC(t)
	tr := New(mg)

	first, _ := tr.Trace([]*modulegraph.Node{seed})
	if len(first) == 0 {
		t.Fatal("expected first trace to visit the seed's transitive users")
	}
	second, _ := tr.Trace([]*modulegraph.Node{seed})
	if len(second) != 0 {
		t.Fatalf("second trace in the same session visited %d nodes, want 0", len(second))
	}
}

func TestTraceSkipsExpat(t *testing.T) {
	mg := modulegraph.New()
	topLevel, _ := depgraph.TopLevel(depgraph.Interface, "foo")
	expat, err := mg.NewNode(topLevel, nil, modulegraph.Expat)
	if err != nil {
		t.Fatal(err)
	}
	mg.Insert(expat)

	tr := New(mg)
	visited, _ := tr.Trace([]*modulegraph.Node{expat})
	if len(visited) != 0 {
		t.Fatalf("expat seed should not be visited, got %d nodes", len(visited))
	}
}
