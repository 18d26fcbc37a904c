// Package tracer computes transitive reachability over a ModuleGraph's
// def→use arcs: given a seed set of changed nodes, which other nodes (and
// therefore which other files) must also be considered affected (§4.4).
//
// The walk itself is a classic worklist BFS rather than a generic graph
// traversal: uses_by_def is a DependencyKey→[]Node multimap, not a
// graph.Directed, so there is no gonum graph to hand to graph/traverse
// here (gonum is used elsewhere, for the job-level producer/consumer
// graph in internal/scheduler, where the node identities really do form a
// graph.Directed). See DESIGN.md.
package tracer

import "github.com/swincd/driver/internal/modulegraph"

// PathStep records one hop of a visit, from the causing node to the node
// it made reachable. Only populated when path tracing is enabled.
type PathStep struct {
	From *modulegraph.Node
	To   *modulegraph.Node
}

// Tracer visits the transitive closure of users of a seed set, skipping
// expat nodes (an expat defines nothing, so it cannot cause recompilation)
// and nodes already marked traced in this session (§4.4's idempotence
// guarantee).
type Tracer struct {
	Graph *modulegraph.Graph

	// WithPaths enables full path recording for diagnostic tracing. When
	// disabled (the default), Trace only returns the flat visited set,
	// which is all the production scheduling path needs.
	WithPaths bool
}

func New(g *modulegraph.Graph) *Tracer {
	return &Tracer{Graph: g}
}

// Trace returns every node transitively reachable from seeds by following
// "X is used by Y" arcs (i.e. uses_by_def[seed.Key]), plus, when WithPaths
// is set, one PathStep for every cross-file arc examined from a visited
// node (including arcs to users already seen). Nodes visited in a prior
// call within the same session (marked traced) are not revisited and are
// not included in the result — §4.4/§8's idempotence property.
func (t *Tracer) Trace(seeds []*modulegraph.Node) (visited []*modulegraph.Node, paths []PathStep) {
	seen := make(map[modulegraph.Handle]bool)
	var queue []*modulegraph.Node
	enqueue := func(n *modulegraph.Node) {
		if n.IsExpat() {
			return
		}
		if t.Graph.IsTraced(n.Handle()) {
			return
		}
		if seen[n.Handle()] {
			return
		}
		seen[n.Handle()] = true
		queue = append(queue, n)
	}

	for _, s := range seeds {
		enqueue(s)
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited = append(visited, n)
		t.Graph.SetTraced(n.Handle())

		for _, use := range t.Graph.UsesOf(n.Key) {
			// A hop that stays within one file carries no cross-file
			// cascade information, so it is dropped from the diagnostic
			// path even though the node itself is still visited/queued.
			if t.WithPaths && n.SourceFile != use.SourceFile {
				paths = append(paths, PathStep{From: n, To: use})
			}
			enqueue(use)
		}
	}
	return visited, paths
}

// AffectedFiles projects visited nodes to their owning files, deduplicated.
func AffectedFiles(visited []*modulegraph.Node) []modulegraph.FileRef {
	seen := make(map[modulegraph.FileRef]bool)
	var out []modulegraph.FileRef
	for _, n := range visited {
		if n.IsExpat() {
			continue
		}
		if seen[n.SourceFile] {
			continue
		}
		seen[n.SourceFile] = true
		out = append(out, n.SourceFile)
	}
	return out
}
