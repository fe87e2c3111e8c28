package engine

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/large-farva/sightline/internal/telemetry"
	"github.com/large-farva/sightline/internal/transport"
)

var tracer = otel.Tracer("github.com/large-farva/sightline/internal/engine")

// Batcher owns the pending event queue and hands drained batches to the
// transport. Draining happens at trigger time under the queue lock, so an
// event enqueued while a delivery is in flight always belongs to the next
// batch. Every event carries its enqueue sequence number and a failed batch
// is merged back by sequence, so retries keep the original relative order
// however many deliveries fail and in whatever order they complete.
type Batcher struct {
	site      string
	sessionID string
	maxBatch  int
	transport Transport
	log       *log.Logger

	mu      sync.Mutex
	seq     uint64
	pending []queued

	inflight sync.WaitGroup
}

type queued struct {
	seq uint64
	ev  telemetry.Event
}

// NewBatcher creates a batcher. A nil transport disables delivery: events
// still queue, but every flush is a no-op.
func NewBatcher(site, sessionID string, maxBatch int, t Transport, logger *log.Logger) *Batcher {
	return &Batcher{
		site:      site,
		sessionID: sessionID,
		maxBatch:  maxBatch,
		transport: t,
		log:       logger,
	}
}

// Enqueue appends ev. When the queue reaches the capacity bound the queue is
// drained immediately and delivered in the background with reason capacity.
// Enqueue never blocks on delivery.
func (b *Batcher) Enqueue(ev telemetry.Event) {
	b.mu.Lock()
	b.seq++
	b.pending = append(b.pending, queued{seq: b.seq, ev: ev})
	var batch []queued
	if b.maxBatch > 0 && len(b.pending) >= b.maxBatch {
		batch = b.drainLocked()
	}
	b.mu.Unlock()

	if batch != nil {
		b.deliverAsync(context.Background(), batch, telemetry.ReasonCapacity)
	}
}

// Flush drains the queue and delivers it, blocking until the transport
// answers. Urgent flushes use the best-effort mode. Failures requeue the
// batch and are only logged.
func (b *Batcher) Flush(ctx context.Context, reason telemetry.Reason, urgent bool) {
	b.mu.Lock()
	batch := b.drainLocked()
	b.mu.Unlock()

	if batch == nil {
		return
	}
	b.deliver(ctx, batch, reason, urgent)
}

// FlushAsync drains the queue now and delivers it in the background.
func (b *Batcher) FlushAsync(ctx context.Context, reason telemetry.Reason) {
	b.mu.Lock()
	batch := b.drainLocked()
	b.mu.Unlock()

	if batch != nil {
		b.deliverAsync(ctx, batch, reason)
	}
}

// Len returns the number of queued events.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Pending returns a copy of the queued events in order.
func (b *Batcher) Pending() []telemetry.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return events(b.pending)
}

// Wait blocks until every background delivery has finished or ctx expires.
func (b *Batcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) drainLocked() []queued {
	if b.transport == nil || len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = nil
	return batch
}

func (b *Batcher) deliverAsync(ctx context.Context, batch []queued, reason telemetry.Reason) {
	// In-flight deliveries outlive the trigger that started them.
	ctx = context.WithoutCancel(ctx)
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.deliver(ctx, batch, reason, false)
	}()
}

func (b *Batcher) deliver(ctx context.Context, batch []queued, reason telemetry.Reason, urgent bool) {
	mode := transport.Ordinary
	if urgent {
		mode = transport.Urgent
	}

	ctx, span := tracer.Start(ctx, "batcher.flush", trace.WithAttributes(
		attribute.String("sightline.reason", string(reason)),
		attribute.Int("sightline.events", len(batch)),
		attribute.Bool("sightline.urgent", urgent),
	))
	defer span.End()

	err := b.transport.Send(ctx, telemetry.Batch{
		Site:      b.site,
		SessionID: b.sessionID,
		Events:    events(batch),
		Reason:    reason,
	}, mode)
	if err == nil {
		return
	}

	span.RecordError(err)
	b.log.Printf("engine: flush (%s) failed, requeued %d events: %v", reason, len(batch), err)
	b.requeue(batch)
}

// requeue merges a failed batch back into the queue. Both slices are sorted
// by sequence, and so is the result.
func (b *Batcher) requeue(batch []queued) {
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]queued, 0, len(batch)+len(b.pending))
	i, j := 0, 0
	for i < len(batch) && j < len(b.pending) {
		if batch[i].seq < b.pending[j].seq {
			merged = append(merged, batch[i])
			i++
		} else {
			merged = append(merged, b.pending[j])
			j++
		}
	}
	merged = append(merged, batch[i:]...)
	b.pending = append(merged, b.pending[j:]...)
}

func events(q []queued) []telemetry.Event {
	if len(q) == 0 {
		return nil
	}
	out := make([]telemetry.Event, len(q))
	for i, e := range q {
		out[i] = e.ev
	}
	return out
}
