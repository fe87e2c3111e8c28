// Package telemetry defines the engagement events produced by the engine and
// the batch envelope that carries them to a collection endpoint. The same
// types are decoded on the collector side, so this package is the single
// source of truth for the wire schema.
package telemetry

import (
	"math"
	"time"
)

// EventType identifies the kind of engagement event.
type EventType string

const (
	EventView        EventType = "view"
	EventViewEnd     EventType = "view-end"
	EventInteraction EventType = "interaction"
	EventScrollDepth EventType = "scroll-depth"
	EventDwell       EventType = "dwell"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventView, EventViewEnd, EventInteraction, EventScrollDepth, EventDwell:
		return true
	}
	return false
}

// PageTarget is the target used by page-level events (scroll depth, dwell).
const PageTarget = "page"

// TSLayout is the ISO-8601 layout used for event timestamps: UTC with
// millisecond precision, e.g. 2026-02-15T14:30:22.123Z.
const TSLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTS renders t in TSLayout.
func FormatTS(t time.Time) string {
	return t.UTC().Format(TSLayout)
}

// ParseTS parses an event timestamp. Any RFC 3339 string is accepted so
// that producers with other precisions still round-trip.
func ParseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Meta is the open key-value payload attached to every event.
type Meta map[string]any

// Clone returns a shallow copy of m. A nil Meta clones to an empty map so
// encoded events always carry an object.
func (m Meta) Clone() Meta {
	out := make(Meta, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Event is a single engagement observation. Events are values; once
// enqueued their Meta must not be mutated by the producer.
type Event struct {
	Type   EventType `json:"type"`
	Target string    `json:"target"`
	Meta   Meta      `json:"meta"`
	At     string    `json:"at"`
}

// NewEvent builds an event stamped at the given time. The meta map is copied.
func NewEvent(typ EventType, target string, meta Meta, at time.Time) Event {
	return Event{
		Type:   typ,
		Target: target,
		Meta:   meta.Clone(),
		At:     FormatTS(at),
	}
}

// ClampRatio bounds v to [0,1] and rounds it to three decimals, the
// precision every reported visibility or scroll ratio uses.
func ClampRatio(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(0, math.Min(1, v))
	return math.Round(v*1000) / 1000
}
