// Package demo simulates readers visiting an instrumented article so the
// collector, CLI and live feed can be exercised end to end without a real
// browser. Each visit runs a real engine against a simulated page and
// delivers to the collector over HTTP, so the event stream is exactly what
// a production page would send.
package demo

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/large-farva/sightline/internal/autotrack"
	"github.com/large-farva/sightline/internal/browser"
	"github.com/large-farva/sightline/internal/config"
	"github.com/large-farva/sightline/internal/dom"
	"github.com/large-farva/sightline/internal/engine"
	"github.com/large-farva/sightline/internal/telemetry"
)

// Article is the page every simulated reader visits.
const Article = `<body>
  <header data-track-id="hero" data-track-label="Hero banner" height="360"></header>
  <main>
    <p height="420"></p>
    <section data-track-id="pricing" data-track-meta='{"variant":"b"}' height="300"></section>
    <p height="480"></p>
    <aside data-track-id="promo" data-track-label="Spring promo" height="240"></aside>
    <p height="600"></p>
  </main>
  <footer data-track-id="footer"></footer>
</body>`

// Runner runs simulated visits on a configurable interval.
type Runner struct {
	Endpoint string
	Interval time.Duration // time between visits
	Steps    int           // scroll steps per visit
	Pause    time.Duration // delay between scroll steps
	Viewport float64

	cfg    config.EngineConfig
	log    *log.Logger
	visits int
}

// New creates a runner that delivers to endpoint using the engine tuning
// from cfg.
func New(cfg config.EngineConfig, endpoint string, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Endpoint: endpoint,
		Interval: 30 * time.Second,
		Steps:    8,
		Pause:    400 * time.Millisecond,
		Viewport: 720,
		cfg:      cfg,
		log:      logger,
	}
}

// Run fires one visit shortly after start, then repeats on the configured
// interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, setState func(string)) {
	r.log.Printf("demo: mode active, simulating readers against %s", r.Endpoint)

	if !sleepOrCancel(ctx, 2*time.Second) {
		return
	}
	r.visit(ctx, setState)

	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.visit(ctx, setState)
		}
	}
}

// Visit runs one complete simulated page load and returns once everything
// it produced has been handed to the collector.
func (r *Runner) Visit(ctx context.Context) error {
	doc, err := dom.ParseString(Article)
	if err != nil {
		return fmt.Errorf("parse article: %w", err)
	}
	page := browser.New(doc, r.Viewport)

	opts := engine.FromConfig(r.cfg)
	opts.Endpoint = r.Endpoint
	if opts.Site == "" {
		opts.Site = "demo"
	}
	opts.Host = page
	opts.Intersector = page
	opts.Logger = r.log
	e := engine.New(opts)
	page.Listen(e)

	reg := autotrack.New(e, r.log)
	page.Mutate(func(doc *dom.Document) { reg.Start(doc) })
	defer reg.Stop()

	runCtx, stopRun := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(runCtx)
	}()
	page.Frame()

	depth := page.DocumentHeight() * (0.5 + rand.Float64()*0.5)
	step := depth / float64(max(r.Steps, 1))
	for i := range r.Steps {
		page.Input(engine.ActivityPointerMove)
		page.ScrollBy(step)
		page.Frame()

		if i == r.Steps/2 {
			e.RecordInteraction("pricing", telemetry.Meta{"action": "click", "plan": "team"})
			page.Mutate(func(doc *dom.Document) {
				doc.Body().AppendChild(dom.NewElement("div",
					autotrack.AttrTrackID, "newsletter",
					autotrack.AttrLabel, "Newsletter signup",
				))
			})
			page.Frame()
		}
		if !sleepOrCancel(ctx, r.Pause) {
			break
		}
	}

	e.Heartbeat()
	page.SetVisible(false)
	page.Hide()

	stopRun()
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}
	return nil
}

func (r *Runner) visit(ctx context.Context, setState func(string)) {
	r.visits++
	setState("VISITING")
	defer setState("READY")

	start := time.Now()
	if err := r.Visit(ctx); err != nil {
		r.log.Printf("demo: visit %d failed: %v", r.visits, err)
		return
	}
	r.log.Printf("demo: visit %d finished in %s, next in %s", r.visits,
		time.Since(start).Round(time.Millisecond), r.Interval.Truncate(time.Second))
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
