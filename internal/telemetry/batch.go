package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Reason records what triggered a flush.
type Reason string

const (
	ReasonInterval   Reason = "interval"
	ReasonCapacity   Reason = "capacity"
	ReasonVisibility Reason = "visibility"
	ReasonUnload     Reason = "unload"
)

// Batch is the framed delivery request body.
type Batch struct {
	Site      string  `json:"site"`
	SessionID string  `json:"session_id"`
	Events    []Event `json:"events"`
	Reason    Reason  `json:"reason"`
}

// Session identifies one engine lifetime (one page load).
type Session struct {
	ID string
}

// NewSession creates a session with a random v4 UUID.
func NewSession() Session {
	return Session{ID: uuid.NewString()}
}

// StoredEvent is the read-side shape returned by the collector's retrieval
// endpoint. ReceivedAt is assigned by the collector, never the engine.
type StoredEvent struct {
	ID         int64     `json:"id"`
	EventType  EventType `json:"event_type"`
	Target     string    `json:"target"`
	Meta       Meta      `json:"meta"`
	Site       string    `json:"site"`
	SessionID  string    `json:"session_id"`
	OccurredAt string    `json:"occurred_at"`
	ReceivedAt string    `json:"received_at"`
}

// Latency is the delay between the event occurring and the collector
// receiving it. ok is false when either timestamp does not parse.
func (e StoredEvent) Latency() (d time.Duration, ok bool) {
	occurred, err := ParseTS(e.OccurredAt)
	if err != nil {
		return 0, false
	}
	received, err := ParseTS(e.ReceivedAt)
	if err != nil {
		return 0, false
	}
	return received.Sub(occurred), true
}
