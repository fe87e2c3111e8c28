package app

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/sightline/internal/config"
	"github.com/large-farva/sightline/internal/dom"
	"github.com/large-farva/sightline/internal/engine"
	"github.com/large-farva/sightline/internal/store"
	"github.com/large-farva/sightline/internal/telemetry"
)

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.Storage.RecentLimit = 2
	cfg.Storage.MaxRecentLimit = 3

	s, err := store.Open(cfg.Storage.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	a, err := New(Options{
		Logger:     log.New(io.Discard, "", 0),
		Cfg:        cfg,
		ConfigPath: "/etc/sightline/sightline.toml",
		Store:      s,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, srv
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+"/events", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func get(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

const validBatch = `{
  "site": "press",
  "session_id": "3f1c0f5e-7a57-4a8e-9c1e-2d7c1b0a4b11",
  "reason": "interval",
  "events": [
    {"type": "view", "target": "hero", "meta": {"ratio": 0.5}, "at": "2026-02-15T14:30:22.123Z"},
    {"type": "dwell", "target": "page", "meta": {"interval_ms": 15000}, "at": "2026-02-15T14:30:23.000Z"}
  ]
}`

func TestIngestAndRecent(t *testing.T) {
	a, srv := newTestApp(t)

	code, out := post(t, srv.URL, validBatch)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 2.0, out["inserted"])
	assert.Equal(t, int64(1), a.batches.Load())
	assert.Equal(t, int64(2), a.ingested.Load())

	var recent struct {
		Events []telemetry.StoredEvent `json:"events"`
	}
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/events/recent", &recent))
	require.Len(t, recent.Events, 2)
	assert.Equal(t, telemetry.EventDwell, recent.Events[0].EventType)
	assert.Equal(t, "hero", recent.Events[1].Target)
	assert.Equal(t, "press", recent.Events[1].Site)
	assert.Equal(t, "2026-02-15T14:30:22.123Z", recent.Events[1].OccurredAt)
	assert.NotEmpty(t, recent.Events[1].ReceivedAt)
}

func TestIngestAcceptsColumnNames(t *testing.T) {
	_, srv := newTestApp(t)

	code, _ := post(t, srv.URL, `{"site":"press","session_id":"s1","events":[
		{"event_type":"scroll-depth","target":"page","meta":{"depth":0.5},"occurred_at":"2026-02-15T14:30:22.000Z"}]}`)
	require.Equal(t, http.StatusCreated, code)

	var recent struct {
		Events []telemetry.StoredEvent `json:"events"`
	}
	get(t, srv.URL+"/events/recent", &recent)
	require.Len(t, recent.Events, 1)
	assert.Equal(t, telemetry.EventScrollDepth, recent.Events[0].EventType)
	assert.Equal(t, "2026-02-15T14:30:22.000Z", recent.Events[0].OccurredAt)
}

func TestIngestRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty body", "", "request body required"},
		{"malformed json", "{not json", "invalid JSON payload"},
		{"unknown type", `{"site":"x","session_id":"s","events":[{"type":"hover","target":"a"}]}`, "invalid event"},
		{"no events", `{"site":"x","session_id":"s","events":[]}`, "invalid event"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, srv := newTestApp(t)
			code, out := post(t, srv.URL, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, false, out["ok"])
			assert.Contains(t, out["error"], tt.wantErr)
			assert.Equal(t, int64(1), a.rejected.Load())
			assert.Zero(t, a.ingested.Load())
		})
	}
}

func TestEventsMethodNotAllowed(t *testing.T) {
	_, srv := newTestApp(t)
	assert.Equal(t, http.StatusMethodNotAllowed, get(t, srv.URL+"/events", nil))

	resp, err := http.Post(srv.URL+"/events/recent", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRecentLimit(t *testing.T) {
	_, srv := newTestApp(t)
	for range 3 {
		code, _ := post(t, srv.URL, validBatch)
		require.Equal(t, http.StatusCreated, code)
	}

	var recent struct {
		Events []telemetry.StoredEvent `json:"events"`
	}
	get(t, srv.URL+"/events/recent", &recent)
	assert.Len(t, recent.Events, 2, "default limit")

	get(t, srv.URL+"/events/recent?limit=1", &recent)
	assert.Len(t, recent.Events, 1)

	get(t, srv.URL+"/events/recent?limit=100", &recent)
	assert.Len(t, recent.Events, 3, "clamped to the maximum")

	for _, bad := range []string{"0", "-4", "ten"} {
		var out map[string]any
		assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/events/recent?limit="+bad, &out), bad)
	}
}

func TestHealthz(t *testing.T) {
	_, srv := newTestApp(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var detailed struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detailed))
	assert.Contains(t, detailed.Checks, "database")
	assert.Contains(t, detailed.Checks, "disk")
	assert.Equal(t, true, detailed.Checks["database"]["ok"])
	assert.Equal(t, true, detailed.Checks["live_feed"]["ok"])
}

func TestStatusAndStats(t *testing.T) {
	a, srv := newTestApp(t)
	a.transition("READY")
	post(t, srv.URL, validBatch)

	var status map[string]any
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/status", &status))
	assert.Equal(t, "sightline", status["name"])
	assert.Equal(t, "READY", status["state"])
	assert.Equal(t, "live", status["mode"])
	assert.Equal(t, 2.0, status["events_ingested"])
	assert.Equal(t, 1.0, status["batches"])

	var stats store.Stats
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/stats", &stats))
	assert.Equal(t, int64(2), stats.Events)
	assert.Equal(t, int64(1), stats.Sessions)
	assert.Equal(t, map[string]int64{"view": 1, "dwell": 1}, stats.ByType)
}

func TestConfigAndVersion(t *testing.T) {
	_, srv := newTestApp(t)

	var cfg struct {
		ConfigPath string        `json:"config_path"`
		Config     config.Config `json:"config"`
	}
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/config", &cfg))
	assert.Equal(t, "/etc/sightline/sightline.toml", cfg.ConfigPath)
	assert.Equal(t, 2, cfg.Config.Storage.RecentLimit)

	var version map[string]string
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/version", &version))
	assert.Equal(t, "dev", version["version"])
	assert.True(t, strings.HasPrefix(version["go_version"], "go"))
}

func TestEngineDeliversToCollector(t *testing.T) {
	_, srv := newTestApp(t)

	opts := engine.DefaultOptions()
	opts.Endpoint = srv.URL + "/events"
	opts.Site = "press"
	opts.Logger = log.New(io.Discard, "", 0)
	e := engine.New(opts)

	e.RecordInteraction("signup", telemetry.Meta{"action": "submit"})
	e.Attach("hero", dom.NewElement("header"), nil) // no intersector, ignored
	e.Heartbeat()
	require.NoError(t, e.Shutdown(context.Background()))

	var recent struct {
		Events []telemetry.StoredEvent `json:"events"`
	}
	get(t, srv.URL+"/events/recent?limit=3", &recent)
	require.Len(t, recent.Events, 2)
	assert.Equal(t, telemetry.EventDwell, recent.Events[0].EventType)
	assert.Equal(t, telemetry.EventInteraction, recent.Events[1].EventType)
	assert.Equal(t, "signup", recent.Events[1].Target)
	assert.Equal(t, "submit", recent.Events[1].Meta["action"])
	assert.Equal(t, e.Session().ID, recent.Events[1].SessionID)
	assert.Equal(t, "press", recent.Events[1].Site)
}

func TestSelfURL(t *testing.T) {
	tests := []struct {
		addr *net.TCPAddr
		want string
	}{
		{&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8090}, "http://127.0.0.1:8090"},
		{&net.TCPAddr{IP: net.IPv4zero, Port: 8090}, "http://127.0.0.1:8090"},
		{&net.TCPAddr{IP: net.IPv6unspecified, Port: 9000}, "http://127.0.0.1:9000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, selfURL(tt.addr))
	}
}
