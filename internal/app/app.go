// Package app is the sightline collector daemon. It wires together the
// ingest API, the event store, the WebSocket live feed and, in demo mode,
// a simulated visitor that drives a real engine against the daemon itself.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/large-farva/sightline/internal/config"
	"github.com/large-farva/sightline/internal/demo"
	"github.com/large-farva/sightline/internal/store"
	"github.com/large-farva/sightline/internal/ws"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *log.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string

	// Store overrides the database opened from Cfg.Storage.Path.
	Store *store.Store
}

// App is the collector process.
type App struct {
	log        *log.Logger
	cfg        config.Config
	configPath string
	bind       string
	debug      bool
	server     *http.Server

	startedAt time.Time
	state     atomic.Value // BOOTING, READY, VISITING

	store     *store.Store
	ownsStore bool
	wsHub     *ws.Hub

	batches  atomic.Int64
	ingested atomic.Int64
	rejected atomic.Int64
}

// New creates an App in the BOOTING state, opening the event store unless
// one is supplied. Call Run to start serving.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	a := &App{
		log:        logger,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		debug:      opts.Cfg.Logging.Level == "debug",
		startedAt:  time.Now(),
		store:      opts.Store,
		wsHub:      ws.NewHub(),
	}
	a.state.Store("BOOTING")

	if a.store == nil {
		s, err := store.Open(opts.Cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		a.store = s
		a.ownsStore = true
	}
	return a, nil
}

// Handler returns the daemon's HTTP routes.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", a.handleEvents)
	mux.HandleFunc("/events/recent", a.handleRecent)
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/stats", a.handleStats)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.Handle("/ws", a.wsHub.Handler())
	return mux
}

// Run starts the HTTP server, the WebSocket hub, the heartbeat ticker and,
// when enabled, the demo visitor. It blocks until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" {
		bind = a.cfg.Server.Bind
	}

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	defer a.closeStore()

	a.log.Printf("listening on http://%s", ln.Addr())

	go a.wsHub.Run(ctx)
	a.transition("READY")
	go a.heartbeatLoop(ctx)

	if a.cfg.Demo.Enabled {
		r := demo.New(a.cfg.Engine, selfURL(ln.Addr())+"/events", a.log)
		if a.cfg.Demo.IntervalSeconds > 0 {
			r.Interval = time.Duration(a.cfg.Demo.IntervalSeconds) * time.Second
		}
		go r.Run(ctx, a.setStateFromDemo)
	}

	go func() {
		<-ctx.Done()
		a.log.Printf("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.server.Shutdown(shutdownCtx)
	}()

	if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// selfURL is the base URL the daemon can reach itself on. Wildcard binds
// are dialled through loopback.
func selfURL(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok || tcp.IP.IsUnspecified() {
		_, port, _ := net.SplitHostPort(addr.String())
		return "http://" + net.JoinHostPort("127.0.0.1", port)
	}
	return "http://" + tcp.String()
}

func (a *App) closeStore() {
	if a.ownsStore {
		if err := a.store.Close(); err != nil {
			a.log.Printf("close event store: %v", err)
		}
	}
}

// transition updates the daemon state and broadcasts the change to all
// connected WebSocket clients.
func (a *App) transition(newState string) {
	old := a.state.Load().(string)
	if old == newState {
		return
	}
	a.state.Store(newState)

	a.emit(map[string]any{
		"type": "state",
		"from": old,
		"to":   newState,
	})
}

// heartbeatLoop lets clients detect connectivity and track uptime without
// polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.emit(map[string]any{
				"type":            "heartbeat",
				"uptime_seconds":  int64(time.Since(a.startedAt).Seconds()),
				"state":           a.state.Load().(string),
				"events_ingested": a.ingested.Load(),
			})
		}
	}
}

func (a *App) setStateFromDemo(newState string) {
	a.transition(newState)
}

// emit stamps a payload with a timestamp and component name, then pushes it
// to every connected WebSocket client.
func (a *App) emit(payload map[string]any) {
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	payload["component"] = "sightlined"
	a.wsHub.BroadcastJSON(payload)
}

func (a *App) debugf(format string, args ...any) {
	if a.debug {
		a.log.Printf(format, args...)
	}
}
