package engine

import (
	"slices"
	"time"

	"github.com/large-farva/sightline/internal/dom"
	"github.com/large-farva/sightline/internal/telemetry"
)

type trackedElement struct {
	trackID string
	meta    telemetry.Meta
	gen     uint64
}

// viewState is an open visibility interval for one track id.
type viewState struct {
	startedAt time.Time
	maxRatio  float64
	meta      telemetry.Meta
}

type observation struct {
	node dom.Node
	gen  uint64
}

// Attach starts view tracking of n under trackID. Attaching a node that is
// already tracked replaces the earlier registration. The returned func
// detaches this registration and is a no-op once it has been replaced.
// Without an Intersector, an empty trackID or a nil node nothing is tracked.
func (e *Engine) Attach(trackID string, n dom.Node, meta telemetry.Meta) (detach func()) {
	if trackID == "" || n == nil || e.intersector == nil {
		return func() {}
	}
	e.Detach(n)

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.tracked[n] = trackedElement{trackID: trackID, meta: meta.Clone(), gen: gen}
	thresholds := slices.Clone(e.viewThresholds)
	e.mu.Unlock()

	e.observe(observation{node: n, gen: gen}, thresholds)

	return func() {
		e.mu.Lock()
		current, ok := e.tracked[n]
		e.mu.Unlock()
		if ok && current.gen == gen {
			e.Detach(n)
		}
	}
}

// Detach stops view tracking of n. An open view interval for its track id is
// dropped without a view-end event. Detaching an untracked node does nothing.
func (e *Engine) Detach(n dom.Node) {
	if n == nil {
		return
	}

	e.mu.Lock()
	te, ok := e.tracked[n]
	if ok {
		delete(e.tracked, n)
		delete(e.views, te.trackID)
		e.removeActiveLocked(te.trackID)
	}
	e.mu.Unlock()

	if ok && e.intersector != nil {
		e.intersector.Unobserve(n)
	}
}

// Tracked reports the track id n is registered under.
func (e *Engine) Tracked(n dom.Node) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	te, ok := e.tracked[n]
	return te.trackID, ok
}

// TrackedCount returns the number of registered nodes.
func (e *Engine) TrackedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracked)
}

// ActiveTargets returns the track ids currently considered in view, in the
// order they became visible.
func (e *Engine) ActiveTargets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.active)
}

// SetViewThresholds replaces the visibility thresholds and re-observes every
// tracked node with the new set.
func (e *Engine) SetViewThresholds(thresholds []float64) {
	normalized := normalizeThresholds(thresholds, e.log, "view")

	e.mu.Lock()
	e.viewThresholds = normalized
	obs := make([]observation, 0, len(e.tracked))
	for n, te := range e.tracked {
		obs = append(obs, observation{node: n, gen: te.gen})
	}
	e.mu.Unlock()

	if e.intersector == nil {
		return
	}
	for _, o := range obs {
		e.intersector.Unobserve(o.node)
		e.observe(o, slices.Clone(normalized))
	}
}

// RecordInteraction queues a manual interaction event for target. The event
// carries the current scroll position and, when anything is in view, the
// active track ids. An empty target is ignored.
func (e *Engine) RecordInteraction(target string, data telemetry.Meta) {
	if target == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	meta := data.Clone()
	meta["scroll"] = map[string]any{
		"ratio":  telemetry.ClampRatio(e.scroll.Ratio),
		"pixels": e.scroll.Pixels,
	}
	if len(e.active) > 0 {
		meta["active"] = slices.Clone(e.active)
	}
	e.enqueue(telemetry.EventInteraction, target, meta)
}

func (e *Engine) observe(o observation, thresholds []float64) {
	e.intersector.Observe(o.node, thresholds, func(entry dom.IntersectionEntry) {
		e.handleIntersection(o, entry)
	})
}

func (e *Engine) handleIntersection(o observation, entry dom.IntersectionEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	te, ok := e.tracked[o.node]
	if !ok || te.gen != o.gen {
		return
	}

	ratio := telemetry.ClampRatio(entry.Ratio)
	state := e.views[te.trackID]

	if entry.Intersecting {
		e.addActiveLocked(te.trackID)
		if state != nil {
			state.maxRatio = max(state.maxRatio, ratio)
			return
		}
		e.views[te.trackID] = &viewState{startedAt: e.now(), maxRatio: ratio, meta: te.meta}
		meta := te.meta.Clone()
		meta["ratio"] = ratio
		e.enqueue(telemetry.EventView, te.trackID, meta)
		return
	}

	e.removeActiveLocked(te.trackID)
	if state == nil {
		return
	}
	delete(e.views, te.trackID)

	d := max(e.now().Sub(state.startedAt), 0)
	meta := state.meta.Clone()
	meta["duration_ms"] = d.Round(time.Millisecond).Milliseconds()
	meta["ratio"] = state.maxRatio
	e.enqueue(telemetry.EventViewEnd, te.trackID, meta)
}

func (e *Engine) addActiveLocked(trackID string) {
	if !slices.Contains(e.active, trackID) {
		e.active = append(e.active, trackID)
	}
}

func (e *Engine) removeActiveLocked(trackID string) {
	e.active = slices.DeleteFunc(e.active, func(id string) bool { return id == trackID })
}
