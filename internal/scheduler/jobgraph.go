package scheduler

import (
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/swincd/driver/internal/diag"
	"github.com/swincd/driver/internal/vfs"
)

// jobNode wraps a *Job so it satisfies gonum's graph.Node, mirroring the
// teacher's batch.node (internal/batch/batch.go).
type jobNode struct {
	id  int64
	job *Job
}

func (n *jobNode) ID() int64 { return n.id }

// jobGraph is the producer/consumer ordering DAG for one wave's job set
// (§5 "Ordering guarantees"): an edge from consumer to producer means the
// consumer must not start until the producer has finished.
type jobGraph struct {
	g       *simple.DirectedGraph
	nodeOf  map[int64]*jobNode
}

// buildJobGraph constructs the ordering DAG over jobs, wiring an edge from
// every job that Consumes a file to whichever job in the same set
// Produces it (a Consumes referencing a file no job in this set produces
// is assumed already on disk and unchanged — true for every input sitting
// in the skipped pool, by construction).
func buildJobGraph(jobs []*Job, sink diag.Sink) (*jobGraph, error) {
	g := simple.NewDirectedGraph()
	nodeOf := make(map[int64]*jobNode, len(jobs))
	producerOf := make(map[vfs.File]*jobNode)

	for _, j := range jobs {
		n := &jobNode{id: j.ID, job: j}
		nodeOf[j.ID] = n
		g.AddNode(n)
		for _, out := range j.Produces {
			producerOf[out] = n
		}
	}

	for _, j := range jobs {
		consumer := nodeOf[j.ID]
		for _, in := range j.Consumes {
			producer, ok := producerOf[in]
			if !ok || producer.id == consumer.id {
				continue
			}
			g.SetEdge(g.NewEdge(consumer, producer))
		}
	}

	if _, err := topo.Sort(g); err != nil {
		sink.Fatal("job graph has a cycle (GraphInvariantViolation): %v", err)
		return nil, xerrors.Errorf("scheduler: job graph has a cycle (GraphInvariantViolation): %w", err)
	}

	return &jobGraph{g: g, nodeOf: nodeOf}, nil
}

// ready reports whether every job n depends on (its producers) is in done.
// A job not tracked by this graph (a second-wave promotion, which never
// had edges built for it — see integrateAndCascade) is trivially ready,
// since it was only ever enqueued once its upstream dependency was
// already integrated.
func (jg *jobGraph) ready(id int64, done map[int64]bool) bool {
	if _, ok := jg.nodeOf[id]; !ok {
		return true
	}
	from := jg.g.From(id)
	for from.Next() {
		if !done[from.Node().ID()] {
			return false
		}
	}
	return true
}

// consumers returns every job that depends on id's output. A job outside
// this graph has none tracked.
func (jg *jobGraph) consumers(id int64) []*Job {
	if _, ok := jg.nodeOf[id]; !ok {
		return nil
	}
	var out []*Job
	to := jg.g.To(id)
	for to.Next() {
		out = append(out, jg.nodeOf[to.Node().ID()].job)
	}
	return out
}

func (jg *jobGraph) noDeps(id int64) bool {
	if _, ok := jg.nodeOf[id]; !ok {
		return true
	}
	return jg.g.From(id).Len() == 0
}
