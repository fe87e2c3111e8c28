// Package engine is the engagement telemetry engine. One Engine instance
// owns the pending event queue, the per-target view state, the scroll state
// and the dwell heartbeat for a single page load, and ships everything it
// observes to a collection endpoint in batches.
//
// Host signals (intersection changes, scroll notifications, activity,
// visibility changes) may arrive on any goroutine. Engine state is guarded
// by one mutex that is never held across a call into the host or the
// network.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/large-farva/sightline/internal/dom"
	"github.com/large-farva/sightline/internal/telemetry"
	"github.com/large-farva/sightline/internal/transport"
)

// Engine is one instrumented page session.
type Engine struct {
	opts        Options
	log         *log.Logger
	now         func() time.Time
	session     telemetry.Session
	batcher     *Batcher
	host        Host
	intersector Intersector
	ownedHTTP   *transport.HTTP

	mu             sync.Mutex
	gen            uint64
	tracked        map[dom.Node]trackedElement
	views          map[string]*viewState
	active         []string
	viewThresholds []float64

	scrollThresholds []float64
	fired            map[float64]bool
	scroll           ScrollState
	frameScheduled   bool

	lastActive time.Time
}

// New creates an engine with a fresh session. Missing optional
// capabilities degrade features instead of failing: without an Intersector
// view tracking is a no-op, without a Host scroll tracking is a no-op and
// the page counts as visible, without an endpoint or transport nothing is
// delivered.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		opts:        opts,
		log:         opts.Logger,
		now:         opts.Now,
		session:     telemetry.NewSession(),
		host:        opts.Host,
		intersector: opts.Intersector,
		tracked:     make(map[dom.Node]trackedElement),
		views:       make(map[string]*viewState),
		fired:       make(map[float64]bool),
	}
	e.viewThresholds = normalizeThresholds(opts.ViewThresholds, e.log, "view")
	e.scrollThresholds = normalizeThresholds(opts.ScrollThresholds, e.log, "scroll")
	e.lastActive = e.now()

	tr := opts.Transport
	if tr == nil && opts.Endpoint != "" {
		e.ownedHTTP = transport.NewHTTP(opts.Endpoint, transport.Options{Logger: e.log})
		tr = e.ownedHTTP
	}
	if opts.Endpoint == "" && opts.Transport == nil {
		e.log.Printf("engine: no endpoint configured, delivery disabled")
	}
	e.batcher = NewBatcher(opts.Site, e.session.ID, opts.MaxBatch, tr, e.log)
	return e
}

// Session returns the session this engine stamps on every batch.
func (e *Engine) Session() telemetry.Session {
	return e.session
}

// Batcher exposes the event queue.
func (e *Engine) Batcher() *Batcher {
	return e.batcher
}

// Run samples the initial scroll position, then drives the periodic flush
// and the dwell heartbeat until ctx is cancelled. Deliveries started by Run
// are not cancelled with ctx; use Shutdown to wait for them.
func (e *Engine) Run(ctx context.Context) error {
	e.updateScroll()

	var flushC, beatC <-chan time.Time
	if e.opts.FlushInterval > 0 {
		t := time.NewTicker(e.opts.FlushInterval)
		defer t.Stop()
		flushC = t.C
	}
	if e.opts.HeartbeatInterval > 0 {
		t := time.NewTicker(e.opts.HeartbeatInterval)
		defer t.Stop()
		beatC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-flushC:
			e.batcher.FlushAsync(ctx, telemetry.ReasonInterval)
		case <-beatC:
			e.Heartbeat()
		}
	}
}

// OnVisibilityChange handles the page becoming visible or hidden. Becoming
// visible counts as activity; becoming hidden triggers an urgent flush.
func (e *Engine) OnVisibilityChange(visible bool) {
	if visible {
		e.Activity(ActivityVisible)
		return
	}
	e.batcher.Flush(context.Background(), telemetry.ReasonVisibility, true)
}

// OnPageHide handles page teardown with an urgent flush.
func (e *Engine) OnPageHide() {
	e.batcher.Flush(context.Background(), telemetry.ReasonUnload, true)
}

// Shutdown performs the teardown flush, then waits for background
// deliveries and, when the engine built its own transport, for queued
// beacons to drain.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.batcher.Flush(ctx, telemetry.ReasonUnload, true)
	if err := e.batcher.Wait(ctx); err != nil {
		return err
	}
	if e.ownedHTTP != nil {
		return e.ownedHTTP.Close(ctx)
	}
	return nil
}

// enqueue stamps and queues an event. Callers may hold e.mu.
func (e *Engine) enqueue(typ telemetry.EventType, target string, meta telemetry.Meta) {
	e.batcher.Enqueue(telemetry.NewEvent(typ, target, meta, e.now()))
}
