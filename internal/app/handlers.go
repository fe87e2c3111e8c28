package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/large-farva/sightline/internal/store"
	"github.com/large-farva/sightline/internal/telemetry"
)

var tracer = otel.Tracer("github.com/large-farva/sightline/internal/app")

// maxBodyBytes bounds one ingest request.
const maxBodyBytes = 1 << 20

// ingestEvent accepts both the engine's wire names (type, at) and the
// column names used by the read side (event_type, occurred_at).
type ingestEvent struct {
	Type       telemetry.EventType `json:"type"`
	EventType  telemetry.EventType `json:"event_type"`
	Target     string              `json:"target"`
	Meta       telemetry.Meta      `json:"meta"`
	At         string              `json:"at"`
	OccurredAt string              `json:"occurred_at"`
}

type ingestRequest struct {
	Site      string           `json:"site"`
	SessionID string           `json:"session_id"`
	Events    []ingestEvent    `json:"events"`
	Reason    telemetry.Reason `json:"reason"`
}

func (r ingestRequest) batch() telemetry.Batch {
	b := telemetry.Batch{
		Site:      r.Site,
		SessionID: r.SessionID,
		Reason:    r.Reason,
		Events:    make([]telemetry.Event, len(r.Events)),
	}
	for i, ev := range r.Events {
		typ := ev.Type
		if typ == "" {
			typ = ev.EventType
		}
		at := ev.At
		if at == "" {
			at = ev.OccurredAt
		}
		b.Events[i] = telemetry.Event{Type: typ, Target: ev.Target, Meta: ev.Meta, At: at}
	}
	return b
}

// ---------------------------------------------------------------------------
// Ingest + read side
// ---------------------------------------------------------------------------

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := tracer.Start(ctx, "collector.ingest", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	var req ingestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		a.rejected.Add(1)
		if errors.Is(err, io.EOF) {
			jsonError(w, "request body required", http.StatusBadRequest)
			return
		}
		jsonError(w, "invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	b := req.batch()
	span.SetAttributes(
		attribute.String("sightline.site", b.Site),
		attribute.String("sightline.reason", string(b.Reason)),
		attribute.Int("sightline.events", len(b.Events)),
	)

	stored, err := a.store.InsertBatch(ctx, b)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, store.ErrInvalidEvent) {
			a.rejected.Add(1)
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.log.Printf("ingest: %v", err)
		jsonError(w, "failed to store events", http.StatusInternalServerError)
		return
	}

	a.batches.Add(1)
	a.ingested.Add(int64(len(stored)))
	a.debugf("ingest: site=%s session=%s reason=%s events=%d", b.Site, b.SessionID, b.Reason, len(stored))

	for _, ev := range stored {
		a.emit(map[string]any{
			"type":        string(ev.EventType),
			"id":          ev.ID,
			"target":      ev.Target,
			"meta":        ev.Meta,
			"site":        ev.Site,
			"session_id":  ev.SessionID,
			"occurred_at": ev.OccurredAt,
			"received_at": ev.ReceivedAt,
			"reason":      string(b.Reason),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"inserted": len(stored)})
}

func (a *App) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := a.cfg.Storage.RecentLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			jsonError(w, fmt.Sprintf("limit must be a positive integer, got %q", s), http.StatusBadRequest)
			return
		}
		limit = n
	}
	limit = min(limit, a.cfg.Storage.MaxRecentLimit)

	events, err := a.store.Recent(r.Context(), limit)
	if err != nil {
		a.log.Printf("recent: %v", err)
		jsonError(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"events": events})
}

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		a.handleHealthDetailed(w, r)
		return
	}
	if err := a.store.Ping(r.Context()); err != nil {
		http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{}
	allOK := true

	start := time.Now()
	if err := a.store.Ping(r.Context()); err != nil {
		checks["database"] = map[string]any{"ok": false, "error": err.Error()}
		allOK = false
	} else {
		checks["database"] = map[string]any{
			"ok":         true,
			"path":       a.cfg.Storage.Path,
			"latency_ms": time.Since(start).Milliseconds(),
		}
	}

	if du, err := diskUsage(filepath.Dir(a.cfg.Storage.Path)); err != nil {
		checks["disk"] = map[string]any{"ok": false, "error": err.Error()}
		allOK = false
	} else {
		checks["disk"] = map[string]any{"ok": du.AvailableBytes > minFreeBytes, "usage": du}
		allOK = allOK && du.AvailableBytes > minFreeBytes
	}

	checks["live_feed"] = map[string]any{
		"ok":      true,
		"clients": a.wsHub.Clients(),
		"dropped": a.wsHub.Dropped(),
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"name":            "sightline",
		"state":           a.state.Load().(string),
		"uptime_seconds":  int64(time.Since(a.startedAt).Seconds()),
		"db_path":         a.cfg.Storage.Path,
		"demo_enabled":    a.cfg.Demo.Enabled,
		"ws_clients":      a.wsHub.Clients(),
		"batches":         a.batches.Load(),
		"events_ingested": a.ingested.Load(),
		"rejected":        a.rejected.Load(),
	}

	if du, err := diskUsage(filepath.Dir(a.cfg.Storage.Path)); err == nil {
		resp["disk"] = du
	}

	if a.cfg.Demo.Enabled {
		resp["mode"] = "demo"
	} else {
		resp["mode"] = "live"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.store.Stats(r.Context())
	if err != nil {
		a.log.Printf("stats: %v", err)
		jsonError(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"config_path": a.configPath,
		"config":      a.cfg,
	})
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	goVersion := GoVersion
	if goVersion == "unknown" {
		goVersion = runtime.Version()
	}
	resp := map[string]any{
		"version":    Version,
		"go_version": goVersion,
		"built_at":   BuiltAt,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": msg,
	})
}
