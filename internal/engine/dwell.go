package engine

import (
	"github.com/large-farva/sightline/internal/telemetry"
)

// ActivityKind names a signal that proves the visitor is present.
type ActivityKind string

const (
	ActivityPointerMove ActivityKind = "pointermove"
	ActivityKeyDown     ActivityKind = "keydown"
	ActivityScroll      ActivityKind = "scroll"
	ActivityTouchStart  ActivityKind = "touchstart"
	ActivityFocus       ActivityKind = "focus"
	ActivityVisible     ActivityKind = "visible"
)

// Valid reports whether k is one of the recognised activity signals.
func (k ActivityKind) Valid() bool {
	switch k {
	case ActivityPointerMove, ActivityKeyDown, ActivityScroll,
		ActivityTouchStart, ActivityFocus, ActivityVisible:
		return true
	}
	return false
}

// Activity marks the visitor as active now. Unknown kinds are ignored.
func (e *Engine) Activity(kind ActivityKind) {
	if !kind.Valid() {
		return
	}
	e.mu.Lock()
	e.lastActive = e.now()
	e.mu.Unlock()
}

// Heartbeat emits a dwell event when the page is visible and the visitor
// was active within the idle timeout. Run calls it on every heartbeat tick;
// skipped ticks are never caught up.
func (e *Engine) Heartbeat() {
	visible := e.host == nil || e.host.Visible()
	if !visible {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.now().Sub(e.lastActive) > e.opts.IdleTimeout {
		return
	}
	e.enqueue(telemetry.EventDwell, telemetry.PageTarget, telemetry.Meta{
		"interval_ms": e.opts.HeartbeatInterval.Milliseconds(),
	})
}
