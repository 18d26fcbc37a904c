// Package modulegraph is the in-memory union of every per-file dependency
// graph seen so far: the ModuleGraph / NodeFinder of spec §4.2. Nodes are
// kept in an arena and referenced by a stable Handle so the def→use arcs
// (which form a cycle with the nodes themselves) don't need owning
// pointers in both directions (§9 design notes).
package modulegraph

import (
	"github.com/swincd/driver/internal/depgraph"
	"github.com/swincd/driver/internal/vfs"
)

// FileRef is Option<FileId>: the zero value (Valid=false) represents "no
// file", the owner of an expat node.
type FileRef struct {
	File  vfs.File
	Valid bool
}

func Owner(f vfs.File) FileRef { return FileRef{File: f, Valid: true} }

var Expat = FileRef{}

func (r FileRef) String() string {
	if !r.Valid {
		return "<expat>"
	}
	return r.File.Path
}

// Handle is a stable arena index identifying one ModuleNode across its
// lifetime, including after Replace relocates it to a different file.
type Handle uint32

// Node is the union-graph counterpart of a provides node (§3).
type Node struct {
	handle      Handle
	Key         depgraph.DependencyKey
	Fingerprint *string
	SourceFile  FileRef
}

func (n *Node) Handle() Handle { return n.handle }

// IsExpat reports whether this node has no known owning file yet.
func (n *Node) IsExpat() bool { return !n.SourceFile.Valid }

// Graph is the two-index union of all per-file graphs plus the def→use
// multimap and the external-dependency and traced sets (§3).
type Graph struct {
	arena []*Node

	byKeyThenFile map[depgraph.DependencyKey]map[FileRef]*Node
	byFileThenKey map[FileRef]map[depgraph.DependencyKey]*Node
	usesByDef     map[depgraph.DependencyKey]map[Handle]*Node

	externalDependencies map[string]bool
	traced                map[Handle]bool
}

func New() *Graph {
	return &Graph{
		byKeyThenFile:        make(map[depgraph.DependencyKey]map[FileRef]*Node),
		byFileThenKey:        make(map[FileRef]map[depgraph.DependencyKey]*Node),
		usesByDef:            make(map[depgraph.DependencyKey]map[Handle]*Node),
		externalDependencies: make(map[string]bool),
		traced:                make(map[Handle]bool),
	}
}

// NewNode allocates a node in the arena without inserting it into either
// index; callers insert it via Insert or Replace.
func (g *Graph) NewNode(key depgraph.DependencyKey, fingerprint *string, file FileRef) (*Node, error) {
	if !file.Valid && fingerprint != nil {
		return nil, errInvariant("expat node must not carry a fingerprint")
	}
	n := &Node{handle: Handle(len(g.arena)), Key: key, Fingerprint: fingerprint, SourceFile: file}
	g.arena = append(g.arena, n)
	return n, nil
}

func errInvariant(msg string) error { return &InvariantError{Detail: msg} }

// InvariantError signals a violation caught by Verify or a mutating method:
// it is always a programmer error, per §7 GraphInvariantViolation.
type InvariantError struct{ Detail string }

func (e *InvariantError) Error() string { return "modulegraph: invariant violation: " + e.Detail }

// Find returns the node attributed to file with the given key, if any.
func (g *Graph) Find(file FileRef, key depgraph.DependencyKey) (*Node, bool) {
	m, ok := g.byFileThenKey[file]
	if !ok {
		return nil, false
	}
	n, ok := m[key]
	return n, ok
}

// FindByFile returns every node currently attributed to file.
func (g *Graph) FindByFile(file FileRef) (map[depgraph.DependencyKey]*Node, bool) {
	m, ok := g.byFileThenKey[file]
	return m, ok
}

// FindByKey returns every node with the given key, across all owning files
// (at most one of which may be Expat, per §3's at-most-one-expat-per-key
// invariant).
func (g *Graph) FindByKey(key depgraph.DependencyKey) (map[FileRef]*Node, bool) {
	m, ok := g.byKeyThenFile[key]
	return m, ok
}

// Insert adds n to both indexes, returning any prior occupant at
// (n.SourceFile, n.Key) — callers expect nil.
func (g *Graph) Insert(n *Node) *Node {
	prior := g.byFileThenKey[n.SourceFile][n.Key]

	if g.byKeyThenFile[n.Key] == nil {
		g.byKeyThenFile[n.Key] = make(map[FileRef]*Node)
	}
	g.byKeyThenFile[n.Key][n.SourceFile] = n

	if g.byFileThenKey[n.SourceFile] == nil {
		g.byFileThenKey[n.SourceFile] = make(map[depgraph.DependencyKey]*Node)
	}
	g.byFileThenKey[n.SourceFile][n.Key] = n

	return prior
}

// RecordUse adds a def→use arc, keyed by node identity (handle) because one
// key may correspond to many nodes across files. Returns true if the arc is
// new.
func (g *Graph) RecordUse(defKey depgraph.DependencyKey, use *Node) bool {
	m, ok := g.usesByDef[defKey]
	if !ok {
		m = make(map[Handle]*Node)
		g.usesByDef[defKey] = m
	}
	if _, exists := m[use.handle]; exists {
		return false
	}
	m[use.handle] = use
	return true
}

// UsesOf returns every node recorded as using defKey.
func (g *Graph) UsesOf(defKey depgraph.DependencyKey) []*Node {
	m := g.usesByDef[defKey]
	out := make([]*Node, 0, len(m))
	for _, n := range m {
		out = append(out, n)
	}
	return out
}

// Replace relocates an existing node to a different owning file and/or
// fingerprint, preserving its handle (and therefore its identity in
// uses_by_def and traced).
func (g *Graph) Replace(old *Node, newFile FileRef, newFingerprint *string) (*Node, error) {
	if !newFile.Valid && newFingerprint != nil {
		return nil, errInvariant("expat node must not carry a fingerprint")
	}
	g.removeFromIndexes(old)
	old.SourceFile = newFile
	old.Fingerprint = newFingerprint
	g.Insert(old)
	return old, nil
}

func (g *Graph) removeFromIndexes(n *Node) {
	if m := g.byKeyThenFile[n.Key]; m != nil {
		delete(m, n.SourceFile)
		if len(m) == 0 {
			delete(g.byKeyThenFile, n.Key)
		}
	}
	if m := g.byFileThenKey[n.SourceFile]; m != nil {
		delete(m, n.Key)
		if len(m) == 0 {
			delete(g.byFileThenKey, n.SourceFile)
		}
	}
}

// Remove deletes n from both indexes and from every uses_by_def bucket it
// appears in (as a use).
func (g *Graph) Remove(n *Node) {
	g.removeFromIndexes(n)
	for _, m := range g.usesByDef {
		delete(m, n.handle)
	}
	delete(g.traced, n.handle)
}

func (g *Graph) AddExternalDependency(filename string) {
	g.externalDependencies[filename] = true
}

func (g *Graph) ExternalDependencies() map[string]bool {
	return g.externalDependencies
}

func (g *Graph) IsTraced(h Handle) bool { return g.traced[h] }
func (g *Graph) SetTraced(h Handle)     { g.traced[h] = true }
func (g *Graph) ClearTraced(h Handle)   { delete(g.traced, h) }

// AllNodes returns every node currently in the arena, including ones that
// have since been Remove'd from the indexes (callers that need only live
// nodes should go through FindByFile/FindByKey).
func (g *Graph) AllNodes() []*Node { return g.arena }

// Verify checks the invariants from §4.2: the two indexes agree, every use
// is present in both indexes, and no use is an expat. It is intended for
// debug builds / tests, not the production hot path.
func (g *Graph) Verify() error {
	for key, byFile := range g.byKeyThenFile {
		for file, n := range byFile {
			if n.Key != key || n.SourceFile != file {
				return errInvariant("byKeyThenFile entry does not match node contents")
			}
			other, ok := g.byFileThenKey[file][key]
			if !ok || other != n {
				return errInvariant("byKeyThenFile entry missing from byFileThenKey")
			}
		}
	}
	for file, byKey := range g.byFileThenKey {
		for key, n := range byKey {
			other, ok := g.byKeyThenFile[key][file]
			if !ok || other != n {
				return errInvariant("byFileThenKey entry missing from byKeyThenFile")
			}
		}
	}
	seenExpat := make(map[depgraph.DependencyKey]bool)
	for key, byFile := range g.byKeyThenFile {
		for file, n := range byFile {
			if !file.Valid {
				if seenExpat[key] {
					return errInvariant("more than one expat node for the same key")
				}
				seenExpat[key] = true
				if len(byFile) > 1 {
					return errInvariant("expat node coexists with a non-expat node for the same key")
				}
			}
			_ = n
		}
	}
	for _, m := range g.usesByDef {
		for h, n := range m {
			if n.handle != h {
				return errInvariant("uses_by_def entry handle mismatch")
			}
			found := false
			if byKey, ok := g.byKeyThenFile[n.Key]; ok {
				if cand, ok := byKey[n.SourceFile]; ok && cand == n {
					found = true
				}
			}
			if !found {
				return errInvariant("use node is not present in the two indexes")
			}
			if n.IsExpat() {
				return errInvariant("expat node appears as a use")
			}
		}
	}
	return nil
}
