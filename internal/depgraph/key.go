// Package depgraph parses the binary per-file dependency artifact the
// frontend emits for each source file and exposes the declaration-level
// identity (DependencyKey) that the rest of the incremental subsystem keys
// off of.
package depgraph

import "fmt"

// Aspect distinguishes a declaration's publicly visible interface from its
// implementation. An implementation node implicitly depends on its sibling
// interface node; interface changes cascade to users, implementation
// changes do not.
type Aspect uint8

const (
	Interface Aspect = iota
	Implementation
)

func (a Aspect) String() string {
	if a == Interface {
		return "interface"
	}
	return "implementation"
}

// Kind selects one of the seven designator shapes a DependencyKey can take.
// The numeric values match the on-disk kind_code in the per-file artifact
// (§4.1 of the incremental design).
type Kind uint8

const (
	KindTopLevel Kind = iota
	KindNominal
	KindPotentialMember
	KindMember
	KindDynamicLookup
	KindExternalDepend
	KindSourceFileProvide
)

func (k Kind) String() string {
	switch k {
	case KindTopLevel:
		return "topLevel"
	case KindNominal:
		return "nominal"
	case KindPotentialMember:
		return "potentialMember"
	case KindMember:
		return "member"
	case KindDynamicLookup:
		return "dynamicLookup"
	case KindExternalDepend:
		return "externalDepend"
	case KindSourceFileProvide:
		return "sourceFileProvide"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Designator is the tagged-variant payload of a DependencyKey. Which of
// Name/Context is populated depends on Kind:
//
//	topLevel, dynamicLookup, sourceFileProvide, externalDepend: Name only
//	nominal, potentialMember:                                   Context only
//	member:                                                     both
type Designator struct {
	Kind    Kind
	Name    string
	Context string
}

func (d Designator) validate() error {
	nameWant, ctxWant := false, false
	switch d.Kind {
	case KindTopLevel, KindDynamicLookup, KindSourceFileProvide, KindExternalDepend:
		nameWant = true
	case KindNominal, KindPotentialMember:
		ctxWant = true
	case KindMember:
		nameWant, ctxWant = true, true
	default:
		return fmt.Errorf("depgraph: unknown designator kind %d", d.Kind)
	}
	if nameWant != (d.Name != "") {
		return fmt.Errorf("depgraph: %s designator has bogus name population (name=%q)", d.Kind, d.Name)
	}
	if ctxWant != (d.Context != "") {
		return fmt.Errorf("depgraph: %s designator has bogus context population (context=%q)", d.Kind, d.Context)
	}
	return nil
}

// DependencyKey is the identity of one "thing that can be depended on":
// an (aspect, designator) pair. Keys are plain comparable structs so they
// can be used directly as map keys.
type DependencyKey struct {
	Aspect     Aspect
	Designator Designator
}

// NewKey builds and validates a DependencyKey, enforcing the
// name/context population rule and the externalDepend-is-always-interface
// invariant from §3.
func NewKey(aspect Aspect, d Designator) (DependencyKey, error) {
	if err := d.validate(); err != nil {
		return DependencyKey{}, err
	}
	if d.Kind == KindExternalDepend && aspect != Interface {
		return DependencyKey{}, fmt.Errorf("depgraph: externalDepend(%q) must have aspect=interface, got %s", d.Name, aspect)
	}
	return DependencyKey{Aspect: aspect, Designator: d}, nil
}

func TopLevel(aspect Aspect, name string) (DependencyKey, error) {
	return NewKey(aspect, Designator{Kind: KindTopLevel, Name: name})
}

func DynamicLookup(aspect Aspect, name string) (DependencyKey, error) {
	return NewKey(aspect, Designator{Kind: KindDynamicLookup, Name: name})
}

func SourceFileProvide(aspect Aspect, name string) (DependencyKey, error) {
	return NewKey(aspect, Designator{Kind: KindSourceFileProvide, Name: name})
}

// ExternalDepend always carries aspect=interface; the parameter is omitted.
func ExternalDepend(filename string) (DependencyKey, error) {
	return NewKey(Interface, Designator{Kind: KindExternalDepend, Name: filename})
}

func Nominal(aspect Aspect, context string) (DependencyKey, error) {
	return NewKey(aspect, Designator{Kind: KindNominal, Context: context})
}

func PotentialMember(aspect Aspect, context string) (DependencyKey, error) {
	return NewKey(aspect, Designator{Kind: KindPotentialMember, Context: context})
}

func Member(aspect Aspect, context, name string) (DependencyKey, error) {
	return NewKey(aspect, Designator{Kind: KindMember, Context: context, Name: name})
}

// Less gives DependencyKey a total order over (aspect, designator), for
// callers that need a deterministic ordering of keys.
func Less(a, b DependencyKey) bool {
	if a.Aspect != b.Aspect {
		return a.Aspect < b.Aspect
	}
	if a.Designator.Kind != b.Designator.Kind {
		return a.Designator.Kind < b.Designator.Kind
	}
	if a.Designator.Context != b.Designator.Context {
		return a.Designator.Context < b.Designator.Context
	}
	return a.Designator.Name < b.Designator.Name
}

func (k DependencyKey) String() string {
	switch k.Designator.Kind {
	case KindNominal, KindPotentialMember:
		return fmt.Sprintf("%s %s(%s)", k.Aspect, k.Designator.Kind, k.Designator.Context)
	case KindMember:
		return fmt.Sprintf("%s %s(%s, %s)", k.Aspect, k.Designator.Kind, k.Designator.Context, k.Designator.Name)
	default:
		return fmt.Sprintf("%s %s(%s)", k.Aspect, k.Designator.Kind, k.Designator.Name)
	}
}
