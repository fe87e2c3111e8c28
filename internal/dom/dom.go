// Package dom is a small in-memory document model. It gives the engine and
// the auto-instrumentation layer something concrete to observe: elements
// with attributes and children, structural and attribute mutation records,
// and a parser that builds a document from HTML markup.
//
// A Document must be mutated from a single goroutine; observers are invoked
// synchronously on that goroutine after each mutation.
package dom

// Node is the view of an element that the instrumentation layers depend on.
// Implementations are compared by identity and used as map keys, so they
// must be pointer types.
type Node interface {
	Attr(name string) (string, bool)
	Children() []Node
}

// MutationKind distinguishes structural changes from attribute changes.
type MutationKind int

const (
	ChildList MutationKind = iota
	Attributes
)

// Mutation describes one change to the document.
type Mutation struct {
	Kind      MutationKind
	Target    Node
	Added     []Node
	Removed   []Node
	Attribute string
}

// IntersectionEntry reports the visibility of an observed node.
type IntersectionEntry struct {
	Target       Node
	Intersecting bool
	Ratio        float64
}

// Walk calls fn for every descendant of n in document order, not including
// n itself.
func Walk(n Node, fn func(Node)) {
	for _, c := range n.Children() {
		fn(c)
		Walk(c, fn)
	}
}
