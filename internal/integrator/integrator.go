// Package integrator merges one file's freshly parsed per-file dependency
// graph into the module-wide graph, discovering which declarations changed
// (§4.3). It is the hinge between the per-file artifacts the frontend
// writes and the module-wide invalidation Tracer reasons about.
package integrator

import (
	"github.com/swincd/driver/internal/depgraph"
	"github.com/swincd/driver/internal/modulegraph"
	"github.com/swincd/driver/internal/vfs"
)

// Integrator merges PerFileGraphs into a Graph. It is not re-entrant: each
// call to Integrate corresponds to exactly one file's artifact, and must
// not be invoked concurrently with another Integrate call against the same
// Graph (§4.3, §5 — the scheduler is the sole mutator).
type Integrator struct {
	Graph *modulegraph.Graph
}

func New(g *modulegraph.Graph) *Integrator {
	return &Integrator{Graph: g}
}

// Integrate merges g (file F's per-file artifact) into the module graph,
// returning every ModuleNode whose presence, fingerprint, or owning file
// changed as a result.
func (in *Integrator) Integrate(file vfs.File, g *depgraph.Graph) ([]*modulegraph.Node, error) {
	owner := modulegraph.Owner(file)

	// 1. Snapshot the keys currently attributed to F; anything left in this
	// set once we're done providing has disappeared from the file.
	disappeared := make(map[depgraph.DependencyKey]bool)
	if byKey, ok := in.Graph.FindByFile(owner); ok {
		for k := range byKey {
			disappeared[k] = true
		}
	}

	changedSet := make(map[modulegraph.Handle]*modulegraph.Node)
	markChanged := func(n *modulegraph.Node) { changedSet[n.Handle()] = n }

	// sequence number -> key, so arc targets can be resolved to keys.
	keyBySeq := make(map[uint32]depgraph.DependencyKey, len(g.Nodes))
	for _, n := range g.Nodes {
		keyBySeq[n.Sequence] = n.Key
	}

	for _, s := range g.Nodes {
		if !s.IsProvides {
			continue
		}
		delete(disappeared, s.Key)

		moduleNode, err := in.resolveProvidesNode(owner, s, markChanged)
		if err != nil {
			return nil, err
		}

		for _, useIdx := range s.Uses {
			targetKey, ok := keyBySeq[useIdx]
			if !ok {
				continue // validated already by Graph.Validate; defensive
			}
			if err := in.ensureKeyKnown(targetKey); err != nil {
				return nil, err
			}
			isNew := in.Graph.RecordUse(targetKey, moduleNode)
			if targetKey.Designator.Kind == depgraph.KindExternalDepend {
				in.Graph.AddExternalDependency(targetKey.Designator.Name)
				if isNew {
					markChanged(moduleNode)
				}
			}
		}
	}

	// 3. Anything still in disappeared was provided by F before, but not
	// anymore: remove it from the graph.
	for key := range disappeared {
		if n, ok := in.Graph.Find(owner, key); ok {
			in.Graph.Remove(n)
			markChanged(n)
		}
	}

	changed := make([]*modulegraph.Node, 0, len(changedSet))
	for _, n := range changedSet {
		changed = append(changed, n)
		// 4. Clear the traced flag for every changed node so Tracer
		// re-traces it; their transitive closure is filtered at query time.
		in.Graph.ClearTraced(n.Handle())
	}
	return changed, nil
}

// resolveProvidesNode implements the here/expat/none match precedence of
// §4.3 step 2a for a single provides node.
func (in *Integrator) resolveProvidesNode(
	owner modulegraph.FileRef,
	s depgraph.Node,
	markChanged func(*modulegraph.Node),
) (*modulegraph.Node, error) {
	// here: already attributed to this file.
	if here, ok := in.Graph.Find(owner, s.Key); ok {
		if !fingerprintsEqual(here.Fingerprint, s.Fingerprint) {
			here.Fingerprint = s.Fingerprint
			markChanged(here)
		}
		return here, nil
	}

	// expat: the sole node with this key has no owning file yet.
	if byFile, ok := in.Graph.FindByKey(s.Key); ok {
		if expat, ok := byFile[modulegraph.Expat]; ok {
			relocated, err := in.Graph.Replace(expat, owner, s.Fingerprint)
			if err != nil {
				return nil, err
			}
			markChanged(relocated)
			return relocated, nil
		}
	}

	// none: genuinely new declaration.
	n, err := in.Graph.NewNode(s.Key, s.Fingerprint, owner)
	if err != nil {
		return nil, err
	}
	in.Graph.Insert(n)
	markChanged(n)
	return n, nil
}

// ensureKeyKnown inserts an expat ModuleNode for key if no node (owned or
// expat) exists for it yet. This is how a key referenced before any file
// provides it becomes visible to later FindByKey lookups — in particular
// the "expat" match precedence in resolveProvidesNode, which relocates this
// placeholder once a provider shows up.
func (in *Integrator) ensureKeyKnown(key depgraph.DependencyKey) error {
	if byFile, ok := in.Graph.FindByKey(key); ok && len(byFile) > 0 {
		return nil
	}
	n, err := in.Graph.NewNode(key, nil, modulegraph.Expat)
	if err != nil {
		return err
	}
	in.Graph.Insert(n)
	return nil
}

func fingerprintsEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
