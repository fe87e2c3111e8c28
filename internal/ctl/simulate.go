package ctl

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/large-farva/sightline/internal/autotrack"
	"github.com/large-farva/sightline/internal/browser"
	"github.com/large-farva/sightline/internal/demo"
	"github.com/large-farva/sightline/internal/dom"
	"github.com/large-farva/sightline/internal/engine"
	"github.com/large-farva/sightline/internal/telemetry"
	"github.com/large-farva/sightline/internal/transport"
)

// SimulateOptions controls the simulate command.
type SimulateOptions struct {
	Page     string  // HTML file to load; empty uses the built-in article
	Endpoint string  // collector URL; empty is a dry run
	Site     string
	Steps    int     // scroll steps from top to bottom
	Viewport float64 // viewport height in pixels
	Interact string  // track id to record an interaction on, halfway down
	Verbose  bool
	JSON     bool
}

// SimulateResult is what one simulated page load produced.
type SimulateResult struct {
	SessionID string            `json:"session_id"`
	Tracked   int               `json:"tracked"`
	Batches   []telemetry.Batch `json:"batches"`
}

// Events returns every delivered event in delivery order.
func (r SimulateResult) Events() []telemetry.Event {
	var out []telemetry.Event
	for _, b := range r.Batches {
		out = append(out, b.Events...)
	}
	return out
}

// recorder keeps a copy of every batch the engine hands off, forwarding to
// the real transport when there is one.
type recorder struct {
	next engine.Transport

	mu      sync.Mutex
	batches []telemetry.Batch
}

func (r *recorder) Send(ctx context.Context, b telemetry.Batch, mode transport.Mode) error {
	if r.next != nil {
		if err := r.next.Send(ctx, b, mode); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.batches = append(r.batches, b)
	r.mu.Unlock()
	return nil
}

// RunSimulation loads a page, instruments it, scrolls it top to bottom and
// tears it down. Everything the engine delivered is returned.
func RunSimulation(ctx context.Context, opts SimulateOptions) (SimulateResult, error) {
	doc, err := loadPage(opts.Page)
	if err != nil {
		return SimulateResult{}, err
	}
	if opts.Viewport <= 0 {
		opts.Viewport = 720
	}
	if opts.Steps <= 0 {
		opts.Steps = 10
	}
	if opts.Site == "" {
		opts.Site = "sightctl"
	}

	logger := log.New(io.Discard, "", 0)
	if opts.Verbose {
		logger = log.New(os.Stderr, "sightctl ", log.LstdFlags|log.Lmicroseconds)
	}

	rec := &recorder{}
	var httpT *transport.HTTP
	if opts.Endpoint != "" {
		httpT = transport.NewHTTP(opts.Endpoint, transport.Options{Logger: logger})
		rec.next = httpT
	}

	page := browser.New(doc, opts.Viewport)
	eopts := engine.DefaultOptions()
	eopts.Site = opts.Site
	eopts.FlushInterval = 0
	eopts.Transport = rec
	eopts.Host = page
	eopts.Intersector = page
	eopts.Logger = logger
	e := engine.New(eopts)
	page.Listen(e)

	reg := autotrack.New(e, logger)
	page.Mutate(func(doc *dom.Document) { reg.Start(doc) })
	defer reg.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = e.Run(runCtx) // initial scroll sample only, returns at once
	page.Frame()

	limit := max(page.DocumentHeight()-opts.Viewport, 0)
	for i := 1; i <= opts.Steps; i++ {
		page.Input(engine.ActivityPointerMove)
		page.ScrollTo(limit * float64(i) / float64(opts.Steps))
		page.Frame()
		if opts.Interact != "" && i == (opts.Steps+1)/2 {
			e.RecordInteraction(opts.Interact, telemetry.Meta{"action": "click"})
		}
	}
	e.Heartbeat()
	page.SetVisible(false)
	page.Hide()

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return SimulateResult{}, err
	}
	if httpT != nil {
		if err := httpT.Close(shutdownCtx); err != nil {
			return SimulateResult{}, err
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return SimulateResult{
		SessionID: e.Session().ID,
		Tracked:   reg.Len(),
		Batches:   rec.batches,
	}, nil
}

func loadPage(path string) (*dom.Document, error) {
	if path == "" {
		return dom.ParseString(demo.Article)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := dom.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Simulate runs one page load and prints what the engine delivered.
func Simulate(opts SimulateOptions) error {
	res, err := RunSimulation(context.Background(), opts)
	if err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(res)
	}

	target := opts.Endpoint
	if target == "" {
		target = "dry run, nothing sent"
	}

	fmt.Println()
	fmt.Println(header("  SIMULATED PAGE LOAD"))
	fmt.Println(rule(50))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Session:"), res.SessionID)
	fmt.Printf("  %-12s %d elements\n", colorize(dim, "Tracked:"), res.Tracked)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Delivered:"), target)
	fmt.Println()

	t := newTable("  ", "Batch", "Reason", "Type", "Target", "Meta")
	t.alignRight(0)
	for i, b := range res.Batches {
		for _, ev := range b.Events {
			t.row(fmt.Sprintf("%d", i+1), string(b.Reason), string(ev.Type), ev.Target, compactMeta(withoutContext(ev.Meta)))
		}
	}
	t.flush()
	fmt.Println()
	return nil
}

// withoutContext drops the scroll and active-target context attached to
// interactions, which is too wide for a table.
func withoutContext(m telemetry.Meta) telemetry.Meta {
	out := m.Clone()
	delete(out, "scroll")
	delete(out, "active")
	return out
}
