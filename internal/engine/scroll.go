package engine

import (
	"math"

	"github.com/large-farva/sightline/internal/telemetry"
)

// ScrollState is the latest sampled read position of the page. Ratio is
// unrounded; thresholds compare against it and reports round it.
type ScrollState struct {
	Ratio  float64 `json:"ratio"`
	Pixels int     `json:"pixels"`
}

func computeScroll(scrollY, viewportHeight, documentHeight float64) ScrollState {
	scrollY = max(scrollY, 0)
	ratio := 1.0
	if documentHeight > 0 {
		ratio = min(1, (scrollY+viewportHeight)/documentHeight)
	}
	return ScrollState{
		Ratio:  max(ratio, 0),
		Pixels: int(math.Round(scrollY)),
	}
}

// OnScroll handles a scroll notification. It counts as activity; the depth
// itself is sampled at most once per animation frame.
func (e *Engine) OnScroll() {
	e.Activity(ActivityScroll)
	if e.host == nil {
		return
	}

	e.mu.Lock()
	if e.frameScheduled {
		e.mu.Unlock()
		return
	}
	e.frameScheduled = true
	e.mu.Unlock()

	e.host.RequestFrame(e.updateScroll)
}

// Scroll returns the latest sampled scroll state.
func (e *Engine) Scroll() ScrollState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scroll
}

func (e *Engine) updateScroll() {
	if e.host == nil {
		return
	}
	next := computeScroll(e.host.Metrics())

	e.mu.Lock()
	defer e.mu.Unlock()

	e.frameScheduled = false
	e.scroll = next
	for _, t := range e.scrollThresholds {
		if e.fired[t] || next.Ratio < t {
			continue
		}
		e.fired[t] = true
		e.enqueue(telemetry.EventScrollDepth, telemetry.PageTarget, telemetry.Meta{
			"depth":  t,
			"pixels": next.Pixels,
		})
	}
}
