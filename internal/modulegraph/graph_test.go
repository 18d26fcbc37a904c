package modulegraph

import (
	"testing"

	"github.com/swincd/driver/internal/depgraph"
	"github.com/swincd/driver/internal/vfs"
)

func TestInsertFindVerify(t *testing.T) {
	g := New()
	fileA := Owner(vfs.File{Path: "a.swift"})
	key, err := depgraph.TopLevel(depgraph.Interface, "foo")
	if err != nil {
		t.Fatal(err)
	}
	n, err := g.NewNode(key, nil, fileA)
	if err != nil {
		t.Fatal(err)
	}
	if prior := g.Insert(n); prior != nil {
		t.Fatalf("expected no prior occupant, got %v", prior)
	}
	got, ok := g.Find(fileA, key)
	if !ok || got != n {
		t.Fatalf("Find did not return inserted node")
	}
	if err := g.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestExpatInvariant(t *testing.T) {
	g := New()
	key, err := depgraph.TopLevel(depgraph.Interface, "foo")
	if err != nil {
		t.Fatal(err)
	}
	fp := "x"
	if _, err := g.NewNode(key, &fp, Expat); err == nil {
		t.Fatal("expected error creating expat node with a fingerprint")
	}
}

func TestRecordUseAndRemove(t *testing.T) {
	g := New()
	fileA := Owner(vfs.File{Path: "a.swift"})
	defKey, _ := depgraph.TopLevel(depgraph.Interface, "foo")
	useKey, _ := depgraph.TopLevel(depgraph.Interface, "bar")

	def, _ := g.NewNode(defKey, nil, fileA)
	g.Insert(def)
	use, _ := g.NewNode(useKey, nil, fileA)
	g.Insert(use)

	if isNew := g.RecordUse(defKey, use); !isNew {
		t.Fatal("expected new arc")
	}
	if isNew := g.RecordUse(defKey, use); isNew {
		t.Fatal("expected duplicate arc to report false")
	}
	if got := g.UsesOf(defKey); len(got) != 1 || got[0] != use {
		t.Fatalf("UsesOf = %v", got)
	}
	if err := g.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	g.Remove(use)
	if got := g.UsesOf(defKey); len(got) != 0 {
		t.Fatalf("UsesOf after remove = %v, want empty", got)
	}
}

func TestReplaceRelocatesExpat(t *testing.T) {
	g := New()
	key, _ := depgraph.TopLevel(depgraph.Interface, "foo")
	n, _ := g.NewNode(key, nil, Expat)
	g.Insert(n)

	fileA := Owner(vfs.File{Path: "a.swift"})
	fp := "fp1"
	if _, err := g.Replace(n, fileA, &fp); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Find(Expat, key); ok {
		t.Fatal("expat entry should have been removed")
	}
	got, ok := g.Find(fileA, key)
	if !ok || got != n || *got.Fingerprint != fp {
		t.Fatalf("node was not relocated correctly: %+v", got)
	}
	if err := g.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}
