package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/sightline/internal/telemetry"
)

func testBatch(n int) telemetry.Batch {
	b := telemetry.Batch{Site: "press", SessionID: "s-1", Reason: telemetry.ReasonInterval}
	for i := 0; i < n; i++ {
		b.Events = append(b.Events, telemetry.NewEvent(telemetry.EventInteraction, "cta", nil, time.Unix(int64(i), 0)))
	}
	return b
}

func closeTransport(t *testing.T, tr *HTTP) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Close(ctx))
}

func TestSendOrdinarySuccess(t *testing.T) {
	var got telemetry.Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL, Options{})
	defer closeTransport(t, tr)

	require.NoError(t, tr.Send(context.Background(), testBatch(2), Ordinary))
	assert.Equal(t, "press", got.Site)
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, telemetry.ReasonInterval, got.Reason)
	require.Len(t, got.Events, 2)
	assert.Equal(t, telemetry.EventInteraction, got.Events[0].Type)
}

func TestSendOrdinaryBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL, Options{})
	defer closeTransport(t, tr)

	err := tr.Send(context.Background(), testBatch(1), Ordinary)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSendOrdinaryNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr := NewHTTP(url, Options{Client: &http.Client{Timeout: time.Second}})
	defer closeTransport(t, tr)

	assert.Error(t, tr.Send(context.Background(), testBatch(1), Ordinary))
}

func TestSendUrgentDeliversInBackground(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL, Options{})
	require.NoError(t, tr.Send(context.Background(), testBatch(3), Urgent))
	closeTransport(t, tr)

	assert.Equal(t, int32(1), hits.Load())
}

func TestSendUrgentRejectedWhenQueueFull(t *testing.T) {
	arrived := make(chan struct{}, 4)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		arrived <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL, Options{BeaconQueue: 1})

	require.NoError(t, tr.Send(context.Background(), testBatch(1), Urgent))
	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("first beacon never reached the server")
	}

	require.NoError(t, tr.Send(context.Background(), testBatch(1), Urgent))
	err := tr.Send(context.Background(), testBatch(1), Urgent)
	assert.ErrorIs(t, err, ErrBeaconRejected)

	close(release)
	closeTransport(t, tr)

	assert.ErrorIs(t, tr.Send(context.Background(), testBatch(1), Urgent), ErrBeaconRejected)
}

func TestSendUrgentPayloadTooLarge(t *testing.T) {
	tr := NewHTTP("http://127.0.0.1:1/events", Options{})
	defer closeTransport(t, tr)

	b := testBatch(1)
	b.Events[0].Meta["blob"] = strings.Repeat("x", MaxBeaconBytes)

	assert.ErrorIs(t, tr.Send(context.Background(), b, Urgent), ErrPayloadTooLarge)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "ordinary", Ordinary.String())
	assert.Equal(t, "urgent", Urgent.String())
}
