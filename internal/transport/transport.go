// Package transport delivers framed event batches to a collection endpoint.
//
// Two modes are offered behind one Send call. Ordinary mode performs a full
// HTTP request/response cycle and reports the outcome. Urgent mode mimics a
// browser beacon: the payload is handed to a bounded background queue and
// Send returns immediately, failing only when the queue cannot accept it.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/large-farva/sightline/internal/telemetry"
)

// Mode selects how a batch is sent.
type Mode int

const (
	// Ordinary waits for the response; non-2xx is a failure.
	Ordinary Mode = iota
	// Urgent queues the payload without blocking; a full queue is a failure.
	Urgent
)

func (m Mode) String() string {
	if m == Urgent {
		return "urgent"
	}
	return "ordinary"
}

// MaxBeaconBytes caps urgent payloads, matching the limit browsers place on
// beacon bodies.
const MaxBeaconBytes = 64 << 10

var (
	// ErrBeaconRejected is returned when the beacon queue is full or closed.
	ErrBeaconRejected = errors.New("beacon rejected")
	// ErrPayloadTooLarge is returned for urgent payloads over MaxBeaconBytes.
	ErrPayloadTooLarge = errors.New("beacon payload too large")
)

var tracer = otel.Tracer("github.com/large-farva/sightline/internal/transport")

// Options configures an HTTP transport.
type Options struct {
	Client      *http.Client
	Logger      *log.Logger
	BeaconQueue int // pending beacon capacity; 0 means 16
}

// HTTP posts batches as JSON to a fixed endpoint.
type HTTP struct {
	endpoint string
	client   *http.Client
	log      *log.Logger

	mu      sync.Mutex
	closed  bool
	beacons chan []byte
	wg      sync.WaitGroup
}

// NewHTTP creates a transport for endpoint and starts its beacon worker.
func NewHTTP(endpoint string, opts Options) *HTTP {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.BeaconQueue <= 0 {
		opts.BeaconQueue = 16
	}
	t := &HTTP{
		endpoint: endpoint,
		client:   opts.Client,
		log:      opts.Logger,
		beacons:  make(chan []byte, opts.BeaconQueue),
	}
	t.wg.Add(1)
	go t.beaconLoop()
	return t
}

// Endpoint returns the delivery URL.
func (t *HTTP) Endpoint() string {
	return t.endpoint
}

// Send delivers b using the given mode.
func (t *HTTP) Send(ctx context.Context, b telemetry.Batch, mode Mode) (err error) {
	ctx, span := tracer.Start(ctx, "transport.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("sightline.mode", mode.String()),
			attribute.String("sightline.reason", string(b.Reason)),
			attribute.Int("sightline.events", len(b.Events)),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if mode == Urgent {
		return t.beacon(body)
	}
	return t.post(ctx, body)
}

func (t *HTTP) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", t.endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func (t *HTTP) beacon(body []byte) error {
	if len(body) > MaxBeaconBytes {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(body))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrBeaconRejected
	}
	select {
	case t.beacons <- body:
		return nil
	default:
		return ErrBeaconRejected
	}
}

// beaconLoop sends queued beacons one at a time. Beacon outcomes are not
// reported to the caller; failures are only logged.
func (t *HTTP) beaconLoop() {
	defer t.wg.Done()
	for body := range t.beacons {
		ctx, cancel := context.WithTimeout(context.Background(), t.client.Timeout+time.Second)
		if err := t.post(ctx, body); err != nil {
			t.log.Printf("transport: beacon delivery failed: %v", err)
		}
		cancel()
	}
}

// Close stops accepting beacons and waits until the queued ones are sent or
// ctx expires.
func (t *HTTP) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.beacons)
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
