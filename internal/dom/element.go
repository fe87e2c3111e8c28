package dom

import "strings"

// Element is a mutable element node.
type Element struct {
	Tag string

	attrs    map[string]string
	parent   *Element
	children []*Element
	doc      *Document // set only on a document's root element
}

// NewElement creates a detached element. attrs are name/value pairs; a
// trailing unpaired name is ignored.
func NewElement(tag string, attrs ...string) *Element {
	e := &Element{Tag: strings.ToLower(tag), attrs: make(map[string]string)}
	for i := 0; i+1 < len(attrs); i += 2 {
		e.attrs[attrs[i]] = attrs[i+1]
	}
	return e
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

// SetAttr sets an attribute. Setting an attribute to its current value is
// not a mutation and notifies nobody.
func (e *Element) SetAttr(name, value string) {
	if old, ok := e.attrs[name]; ok && old == value {
		return
	}
	e.attrs[name] = value
	e.notify(Mutation{Kind: Attributes, Target: e, Attribute: name})
}

// RemoveAttr deletes an attribute if present.
func (e *Element) RemoveAttr(name string) {
	if _, ok := e.attrs[name]; !ok {
		return
	}
	delete(e.attrs, name)
	e.notify(Mutation{Kind: Attributes, Target: e, Attribute: name})
}

// Children returns the element's children as Nodes.
func (e *Element) Children() []Node {
	out := make([]Node, len(e.children))
	for i, c := range e.children {
		out[i] = c
	}
	return out
}

// Elements returns the element's children.
func (e *Element) Elements() []*Element {
	return append([]*Element(nil), e.children...)
}

// Parent returns the parent element, or nil when detached or root.
func (e *Element) Parent() *Element {
	return e.parent
}

// AppendChild inserts c as the last child of e, moving it out of its
// current parent first.
func (e *Element) AppendChild(c *Element) {
	if c.parent != nil {
		c.parent.RemoveChild(c)
	}
	c.parent = e
	e.children = append(e.children, c)
	e.notify(Mutation{Kind: ChildList, Target: e, Added: []Node{c}})
}

// RemoveChild detaches c from e. It reports false if c is not a child.
func (e *Element) RemoveChild(c *Element) bool {
	for i, child := range e.children {
		if child != c {
			continue
		}
		e.children = append(e.children[:i], e.children[i+1:]...)
		c.parent = nil
		e.notify(Mutation{Kind: ChildList, Target: e, Removed: []Node{c}})
		return true
	}
	return false
}

// Remove detaches e from its parent.
func (e *Element) Remove() {
	if e.parent != nil {
		e.parent.RemoveChild(e)
	}
}

// Document returns the document e is connected to, or nil.
func (e *Element) Document() *Document {
	n := e
	for n.parent != nil {
		n = n.parent
	}
	return n.doc
}

// Connected reports whether e is attached to a document.
func (e *Element) Connected() bool {
	return e.Document() != nil
}

func (e *Element) notify(m Mutation) {
	if d := e.Document(); d != nil {
		d.dispatch(m)
	}
}
