package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/large-farva/sightline/internal/dom"
	"github.com/large-farva/sightline/internal/telemetry"
	"github.com/large-farva/sightline/internal/transport"
)

var errEndpointDown = errors.New("endpoint down")

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type sent struct {
	batch telemetry.Batch
	mode  transport.Mode
	ok    bool
}

type fakeTransport struct {
	mu    sync.Mutex
	fail  bool
	sends []sent
}

func (f *fakeTransport) Send(_ context.Context, b telemetry.Batch, mode transport.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sent{batch: b, mode: mode, ok: !f.fail})
	if f.fail {
		return errEndpointDown
	}
	return nil
}

func (f *fakeTransport) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeTransport) calls() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sends...)
}

// delivered returns the events of every successful send, in order.
func (f *fakeTransport) delivered() []telemetry.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []telemetry.Event
	for _, s := range f.sends {
		if s.ok {
			out = append(out, s.batch.Events...)
		}
	}
	return out
}

// gatedTransport holds every send until the test answers it.
type gatedTransport struct {
	gates chan gatedSend

	mu   sync.Mutex
	sent [][]telemetry.Event
}

type gatedSend struct {
	batch  telemetry.Batch
	answer chan error
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{gates: make(chan gatedSend, 16)}
}

func (g *gatedTransport) Send(ctx context.Context, b telemetry.Batch, _ transport.Mode) error {
	gs := gatedSend{batch: b, answer: make(chan error, 1)}
	g.gates <- gs
	select {
	case err := <-gs.answer:
		if err == nil {
			g.mu.Lock()
			g.sent = append(g.sent, b.Events)
			g.mu.Unlock()
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// next returns the oldest send still waiting for an answer.
func (g *gatedTransport) next(t *testing.T) gatedSend {
	t.Helper()
	select {
	case gs := <-g.gates:
		return gs
	case <-time.After(2 * time.Second):
		t.Fatal("no send reached the transport")
		return gatedSend{}
	}
}

func (g *gatedTransport) delivered() [][]telemetry.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]telemetry.Event(nil), g.sent...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeIntersector struct {
	mu         sync.Mutex
	callbacks  map[dom.Node]func(dom.IntersectionEntry)
	thresholds map[dom.Node][]float64
	unobserved []dom.Node
}

func newFakeIntersector() *fakeIntersector {
	return &fakeIntersector{
		callbacks:  make(map[dom.Node]func(dom.IntersectionEntry)),
		thresholds: make(map[dom.Node][]float64),
	}
}

func (f *fakeIntersector) Observe(n dom.Node, thresholds []float64, fn func(dom.IntersectionEntry)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[n] = fn
	f.thresholds[n] = thresholds
}

func (f *fakeIntersector) Unobserve(n dom.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.callbacks, n)
	delete(f.thresholds, n)
	f.unobserved = append(f.unobserved, n)
}

func (f *fakeIntersector) observing(n dom.Node) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.callbacks[n]
	return ok
}

func (f *fakeIntersector) thresholdsFor(n dom.Node) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thresholds[n]
}

func (f *fakeIntersector) callback(n dom.Node) func(dom.IntersectionEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks[n]
}

// report delivers an entry for n if it is still observed.
func (f *fakeIntersector) report(n dom.Node, intersecting bool, ratio float64) {
	if fn := f.callback(n); fn != nil {
		fn(dom.IntersectionEntry{Target: n, Intersecting: intersecting, Ratio: ratio})
	}
}

type fakeHost struct {
	mu       sync.Mutex
	visible  bool
	scrollY  float64
	viewport float64
	docH     float64
	frames   []func()
}

func (h *fakeHost) Visible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible
}

func (h *fakeHost) Metrics() (float64, float64, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scrollY, h.viewport, h.docH
}

func (h *fakeHost) RequestFrame(fn func()) {
	h.mu.Lock()
	h.frames = append(h.frames, fn)
	h.mu.Unlock()
}

func (h *fakeHost) scrollTo(y float64) {
	h.mu.Lock()
	h.scrollY = y
	h.mu.Unlock()
}

func (h *fakeHost) setVisible(v bool) {
	h.mu.Lock()
	h.visible = v
	h.mu.Unlock()
}

// runFrames runs the queued frame callbacks and reports how many ran.
func (h *fakeHost) runFrames() int {
	h.mu.Lock()
	frames := h.frames
	h.frames = nil
	h.mu.Unlock()
	for _, fn := range frames {
		fn()
	}
	return len(frames)
}

type harness struct {
	engine      *Engine
	transport   *fakeTransport
	clock       *fakeClock
	intersector *fakeIntersector
	host        *fakeHost
}

func newHarness(mutate func(*Options)) *harness {
	h := &harness{
		transport:   &fakeTransport{},
		clock:       newFakeClock(),
		intersector: newFakeIntersector(),
		host:        &fakeHost{visible: true, viewport: 100, docH: 1000},
	}
	opts := DefaultOptions()
	opts.Site = "test"
	opts.MaxBatch = 0
	opts.Transport = h.transport
	opts.Intersector = h.intersector
	opts.Host = h.host
	opts.Logger = quietLogger()
	opts.Now = h.clock.Now
	if mutate != nil {
		mutate(&opts)
	}
	h.engine = New(opts)
	return h
}

func (h *harness) pending() []telemetry.Event {
	return h.engine.Batcher().Pending()
}

func eventTypes(events []telemetry.Event) []telemetry.EventType {
	out := make([]telemetry.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
