package dom

import "slices"

type mutationObserver struct {
	fn     func([]Mutation)
	filter []string
}

// Document owns a tree of elements rooted at a <body> element.
type Document struct {
	body      *Element
	observers map[int]*mutationObserver
	nextID    int
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	d := &Document{observers: make(map[int]*mutationObserver)}
	d.body = NewElement("body")
	d.body.doc = d
	return d
}

// Body returns the root element.
func (d *Document) Body() *Element {
	return d.body
}

// Root returns the root element as a Node.
func (d *Document) Root() Node {
	return d.body
}

// ObserveMutations subscribes fn to every child-list mutation in the
// document and to attribute mutations whose name is in attributeFilter (all
// attributes when the filter is empty). The returned func unsubscribes.
func (d *Document) ObserveMutations(fn func([]Mutation), attributeFilter ...string) (stop func()) {
	id := d.nextID
	d.nextID++
	d.observers[id] = &mutationObserver{fn: fn, filter: attributeFilter}
	return func() { delete(d.observers, id) }
}

// FindAll returns every element carrying the named attribute, in document
// order.
func (d *Document) FindAll(attr string) []*Element {
	var out []*Element
	Walk(d.body, func(n Node) {
		if _, ok := n.Attr(attr); ok {
			out = append(out, n.(*Element))
		}
	})
	return out
}

// Find returns the first element whose attribute attr equals value.
func (d *Document) Find(attr, value string) *Element {
	for _, e := range d.FindAll(attr) {
		if v, _ := e.Attr(attr); v == value {
			return e
		}
	}
	return nil
}

func (d *Document) dispatch(m Mutation) {
	ids := make([]int, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		o, ok := d.observers[id]
		if !ok {
			continue
		}
		if m.Kind == Attributes && len(o.filter) > 0 && !slices.Contains(o.filter, m.Attribute) {
			continue
		}
		o.fn([]Mutation{m})
	}
}
