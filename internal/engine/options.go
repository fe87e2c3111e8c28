package engine

import (
	"context"
	"log"
	"slices"
	"time"

	"github.com/large-farva/sightline/internal/config"
	"github.com/large-farva/sightline/internal/dom"
	"github.com/large-farva/sightline/internal/telemetry"
	"github.com/large-farva/sightline/internal/transport"
)

// Transport sends one framed batch. A nil error means the endpoint accepted
// the whole batch; anything else is treated as a failure of the whole batch.
type Transport interface {
	Send(ctx context.Context, b telemetry.Batch, mode transport.Mode) error
}

// Host exposes the page-level state the engine samples.
type Host interface {
	// Visible reports whether the page is currently visible to the user.
	Visible() bool
	// Metrics returns the vertical scroll offset, the viewport height and
	// the full document height, all in CSS pixels.
	Metrics() (scrollY, viewportHeight, documentHeight float64)
	// RequestFrame schedules fn to run before the next rendered frame.
	RequestFrame(fn func())
}

// Intersector reports visibility changes of observed nodes. fn may be
// invoked from any goroutine but never concurrently for the same observer.
type Intersector interface {
	Observe(n dom.Node, thresholds []float64, fn func(dom.IntersectionEntry))
	Unobserve(n dom.Node)
}

// Options configures an Engine.
type Options struct {
	Endpoint          string // delivery URL; empty disables delivery
	Site              string
	FlushInterval     time.Duration // 0 disables periodic flushes
	HeartbeatInterval time.Duration // 0 disables the dwell heartbeat
	IdleTimeout       time.Duration
	ScrollThresholds  []float64
	ViewThresholds    []float64
	MaxBatch          int // 0 disables capacity flushes

	// Transport overrides the HTTP transport built from Endpoint.
	Transport   Transport
	Host        Host
	Intersector Intersector
	Logger      *log.Logger
	Now         func() time.Time
}

// DefaultOptions returns the stock tuning: flush every 5s, heartbeat every
// 15s, 30s idle timeout, quarter thresholds, batches of 25.
func DefaultOptions() Options {
	return Options{
		FlushInterval:     5 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		IdleTimeout:       30 * time.Second,
		ScrollThresholds:  []float64{0.25, 0.5, 0.75, 1},
		ViewThresholds:    []float64{0.25, 0.5, 0.75, 1},
		MaxBatch:          25,
	}
}

// FromConfig maps the [engine] config section onto Options.
func FromConfig(c config.EngineConfig) Options {
	return Options{
		Endpoint:          c.Endpoint,
		Site:              c.Site,
		FlushInterval:     time.Duration(c.FlushIntervalMS) * time.Millisecond,
		HeartbeatInterval: time.Duration(c.HeartbeatIntervalMS) * time.Millisecond,
		IdleTimeout:       time.Duration(c.IdleTimeoutMS) * time.Millisecond,
		ScrollThresholds:  slices.Clone(c.ScrollThresholds),
		ViewThresholds:    slices.Clone(c.ViewThresholds),
		MaxBatch:          c.MaxBatch,
	}
}

// normalizeThresholds returns the distinct values of in that lie within
// [0,1], sorted ascending. Out-of-range values are logged and dropped.
func normalizeThresholds(in []float64, logger *log.Logger, name string) []float64 {
	out := make([]float64, 0, len(in))
	for _, t := range in {
		if t < 0 || t > 1 {
			logger.Printf("engine: ignoring %s threshold %v outside [0,1]", name, t)
			continue
		}
		out = append(out, t)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
