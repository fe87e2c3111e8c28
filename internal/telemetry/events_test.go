package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTS(t *testing.T) {
	at := time.Date(2026, 2, 15, 14, 30, 22, 123456789, time.FixedZone("X", 3600))
	assert.Equal(t, "2026-02-15T13:30:22.123Z", FormatTS(at))

	parsed, err := ParseTS(FormatTS(at))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(at.Truncate(time.Millisecond)))
}

func TestNewEventCopiesMeta(t *testing.T) {
	meta := Meta{"label": "hero"}
	ev := NewEvent(EventView, "hero", meta, time.Unix(0, 0))
	meta["label"] = "changed"

	assert.Equal(t, "hero", ev.Meta["label"])
	assert.Equal(t, "1970-01-01T00:00:00.000Z", ev.At)
}

func TestNewEventNilMeta(t *testing.T) {
	ev := NewEvent(EventDwell, PageTarget, nil, time.Now())
	require.NotNil(t, ev.Meta)
	assert.Empty(t, ev.Meta)
}

func TestClampRatio(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.12345, 0.123},
		{0.9996, 1},
		{1.7, 1},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampRatio(tt.in), "ClampRatio(%v)", tt.in)
	}
}

func TestEventTypeValid(t *testing.T) {
	for _, typ := range []EventType{EventView, EventViewEnd, EventInteraction, EventScrollDepth, EventDwell} {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, EventType("click").Valid())
}

func TestNewSession(t *testing.T) {
	a, b := NewSession(), NewSession()
	assert.NotEqual(t, a.ID, b.ID)
	_, err := uuid.Parse(a.ID)
	assert.NoError(t, err)
}

func TestStoredEventLatency(t *testing.T) {
	ev := StoredEvent{
		OccurredAt: "2026-02-15T13:30:22.000Z",
		ReceivedAt: "2026-02-15T13:30:23.250Z",
	}
	d, ok := ev.Latency()
	require.True(t, ok)
	assert.Equal(t, 1250*time.Millisecond, d)

	ev.ReceivedAt = "yesterday"
	_, ok = ev.Latency()
	assert.False(t, ok)
}
