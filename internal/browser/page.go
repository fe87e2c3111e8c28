// Package browser simulates the browsing context an engine is mounted in:
// a vertical block layout of a dom.Document, a scrollable viewport, an
// animation frame queue, page visibility and intersection notifications.
// A Page satisfies engine.Host and engine.Intersector, which lets the demo
// visitor, sightctl simulate and the tests drive a real engine end to end.
package browser

import (
	"slices"
	"strconv"
	"sync"

	"github.com/large-farva/sightline/internal/dom"
	"github.com/large-farva/sightline/internal/engine"
)

// DefaultBlockHeight is the height of a leaf element without a height
// attribute.
const DefaultBlockHeight = 120

// HeightAttr sets an element's height in pixels.
const HeightAttr = "height"

// Listener receives page level signals.
type Listener interface {
	OnScroll()
	OnVisibilityChange(visible bool)
	OnPageHide()
	Activity(kind engine.ActivityKind)
}

type box struct {
	top, height float64
}

type observer struct {
	thresholds   []float64
	fn           func(dom.IntersectionEntry)
	index        int
	intersecting bool
}

// Page is one simulated page load. Its methods are safe for concurrent use;
// callbacks run without the page lock held. Document mutations made while
// the page is live must go through Mutate.
type Page struct {
	doc   *dom.Document
	domMu sync.Mutex

	mu        sync.Mutex
	viewport  float64
	scrollY   float64
	visible   bool
	frames    []func()
	observers map[dom.Node]*observer
	listeners []Listener
}

// New creates a visible page showing doc through a viewport of the given
// height, scrolled to the top.
func New(doc *dom.Document, viewportHeight float64) *Page {
	return &Page{
		doc:       doc,
		viewport:  max(viewportHeight, 0),
		visible:   true,
		observers: make(map[dom.Node]*observer),
	}
}

// Document returns the page's document.
func (p *Page) Document() *dom.Document {
	return p.doc
}

// Listen registers l for scroll, visibility, pagehide and activity signals.
func (p *Page) Listen(l Listener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// Visible reports the page visibility state.
func (p *Page) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Metrics returns the scroll offset, viewport height and document height.
func (p *Page) Metrics() (scrollY, viewportHeight, documentHeight float64) {
	documentHeight = p.DocumentHeight()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollY, p.viewport, documentHeight
}

// DocumentHeight returns the laid out height of the document.
func (p *Page) DocumentHeight() float64 {
	return p.layout()[p.doc.Root()].height
}

// Box returns the vertical position and height of n, if n is laid out.
func (p *Page) Box(n dom.Node) (top, height float64, ok bool) {
	b, ok := p.layout()[n]
	return b.top, b.height, ok
}

// Mutate runs fn with exclusive access to the document. Mutation observers
// fire synchronously inside fn.
func (p *Page) Mutate(fn func(doc *dom.Document)) {
	p.domMu.Lock()
	defer p.domMu.Unlock()
	fn(p.doc)
}

// RequestFrame queues fn for the next Frame.
func (p *Page) RequestFrame(fn func()) {
	p.mu.Lock()
	p.frames = append(p.frames, fn)
	p.mu.Unlock()
}

// Observe starts intersection observation of n. The first frame after
// Observe always reports the current state; later frames report only when
// the intersecting flag changes or a threshold is crossed.
func (p *Page) Observe(n dom.Node, thresholds []float64, fn func(dom.IntersectionEntry)) {
	ts := slices.Clone(thresholds)
	if len(ts) == 0 {
		ts = []float64{0}
	}
	slices.Sort(ts)

	p.mu.Lock()
	p.observers[n] = &observer{thresholds: ts, fn: fn, index: -1}
	p.mu.Unlock()
}

// Unobserve stops intersection observation of n.
func (p *Page) Unobserve(n dom.Node) {
	p.mu.Lock()
	delete(p.observers, n)
	p.mu.Unlock()
}

// Observed returns the number of observed nodes.
func (p *Page) Observed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observers)
}

// ScrollTo moves the viewport, clamped to the scrollable range, and
// dispatches a scroll notification.
func (p *Page) ScrollTo(y float64) {
	docHeight := p.DocumentHeight()
	p.mu.Lock()
	limit := max(docHeight-p.viewport, 0)
	p.scrollY = min(max(y, 0), limit)
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		l.OnScroll()
	}
}

// ScrollBy scrolls relative to the current position.
func (p *Page) ScrollBy(dy float64) {
	p.mu.Lock()
	y := p.scrollY + dy
	p.mu.Unlock()
	p.ScrollTo(y)
}

// SetVisible changes the visibility state and notifies listeners when it
// actually changed.
func (p *Page) SetVisible(visible bool) {
	p.mu.Lock()
	changed := p.visible != visible
	p.visible = visible
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range listeners {
		l.OnVisibilityChange(visible)
	}
}

// Hide dispatches pagehide.
func (p *Page) Hide() {
	p.mu.Lock()
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		l.OnPageHide()
	}
}

// Input dispatches a user input signal such as a key press.
func (p *Page) Input(kind engine.ActivityKind) {
	p.mu.Lock()
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		l.Activity(kind)
	}
}

type delivery struct {
	fn    func(dom.IntersectionEntry)
	entry dom.IntersectionEntry
}

// Frame renders one frame: queued frame callbacks run first, then
// intersection observers are updated against the resulting layout.
func (p *Page) Frame() {
	p.mu.Lock()
	frames := p.frames
	p.frames = nil
	p.mu.Unlock()

	for _, fn := range frames {
		fn()
	}

	boxes, order := p.layoutOrdered()

	p.mu.Lock()
	viewTop := p.scrollY
	viewBottom := p.scrollY + p.viewport
	var out []delivery
	for n, o := range p.observers {
		b, laidOut := boxes[n]
		intersecting, ratio := false, 0.0
		if laidOut {
			intersecting, ratio = intersect(b, viewTop, viewBottom)
		}
		index := thresholdIndex(o.thresholds, ratio)
		if index == o.index && intersecting == o.intersecting {
			continue
		}
		o.index = index
		o.intersecting = intersecting
		out = append(out, delivery{fn: o.fn, entry: dom.IntersectionEntry{
			Target:       n,
			Intersecting: intersecting,
			Ratio:        ratio,
		}})
	}
	p.mu.Unlock()

	slices.SortFunc(out, func(a, b delivery) int {
		return order[a.entry.Target] - order[b.entry.Target]
	})
	for _, d := range out {
		d.fn(d.entry)
	}
}

func (p *Page) layout() map[dom.Node]box {
	p.domMu.Lock()
	defer p.domMu.Unlock()
	return layout(p.doc.Root())
}

// layoutOrdered also returns each node's position in document order so
// entries can be delivered top to bottom.
func (p *Page) layoutOrdered() (map[dom.Node]box, map[dom.Node]int) {
	p.domMu.Lock()
	defer p.domMu.Unlock()
	order := make(map[dom.Node]int)
	dom.Walk(p.doc.Root(), func(n dom.Node) {
		order[n] = len(order)
	})
	return layout(p.doc.Root()), order
}

func intersect(b box, viewTop, viewBottom float64) (bool, float64) {
	if b.height <= 0 {
		if b.top >= viewTop && b.top <= viewBottom {
			return true, 1
		}
		return false, 0
	}
	overlap := min(b.top+b.height, viewBottom) - max(b.top, viewTop)
	if overlap <= 0 {
		return false, 0
	}
	return true, min(overlap/b.height, 1)
}

// thresholdIndex is the index of the first threshold above ratio, or
// len(thresholds) when ratio reaches the last one.
func thresholdIndex(thresholds []float64, ratio float64) int {
	for i, t := range thresholds {
		if t > ratio {
			return i
		}
	}
	return len(thresholds)
}

// layout stacks every element vertically below root. A height attribute
// fixes an element's height; otherwise leaves get DefaultBlockHeight and
// containers the sum of their children.
func layout(root dom.Node) map[dom.Node]box {
	boxes := make(map[dom.Node]box)
	place(root, 0, boxes)
	return boxes
}

func place(n dom.Node, top float64, boxes map[dom.Node]box) float64 {
	y := top
	children := n.Children()
	for _, c := range children {
		y += place(c, y, boxes)
	}

	height := y - top
	if len(children) == 0 {
		height = DefaultBlockHeight
	}
	if v, ok := n.Attr(HeightAttr); ok {
		if h, err := strconv.ParseFloat(v, 64); err == nil && h >= 0 {
			height = h
		}
	}
	boxes[n] = box{top: top, height: height}
	return height
}
