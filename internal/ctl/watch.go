package ctl

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
}

// watchURL turns the daemon base URL into its live feed URL.
func watchURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// Watch connects to the daemon's WebSocket endpoint and streams events to
// the terminal in a human-readable format until interrupted.
func Watch(baseURL string, opts WatchOptions) error {
	wsURL, err := watchURL(baseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(green, "connected"), colorize(dim, wsURL))
		if len(opts.Filter) > 0 {
			fmt.Printf("  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Println(rule(50))
		fmt.Println()
	}

	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if !wanted(msg, filterSet) {
				continue
			}
			if opts.JSON {
				fmt.Println(string(msg))
			} else {
				fmt.Println(formatEvent(msg))
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		if !opts.JSON {
			fmt.Println()
			fmt.Println(colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(1*time.Second),
		)
		return nil
	case <-done:
		return nil
	}
}

// wanted applies the type filter. Messages that do not decode are always
// shown.
func wanted(msg []byte, filter map[string]bool) bool {
	if len(filter) == 0 {
		return true
	}
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &ev); err != nil {
		return true
	}
	return filter[ev.Type]
}

// formatEvent renders one live feed message as a terminal line. Unknown
// message types fall back to indented JSON.
func formatEvent(raw []byte) string {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		return "  " + string(raw)
	}

	evType, _ := ev["type"].(string)
	ts, _ := ev["ts"].(string)
	when := colorize(dim, padRight(formatTime(ts), 8))

	switch evType {
	case "heartbeat":
		state, _ := ev["state"].(string)
		uptime, _ := ev["uptime_seconds"].(float64)
		ingested, _ := ev["events_ingested"].(float64)
		return fmt.Sprintf("  %s %s  %s  up %s  %s",
			when,
			colorize(dim, "heartbeat"),
			colorize(stateColor(state), state),
			colorize(dim, formatDuration(time.Duration(uptime)*time.Second)),
			colorize(dim, fmt.Sprintf("%.0f ingested", ingested)),
		)

	case "state":
		from, _ := ev["from"].(string)
		to, _ := ev["to"].(string)
		return fmt.Sprintf("  %s %s  %s %s %s",
			when,
			colorize(bold, "STATE"),
			colorize(stateColor(from), from),
			colorize(dim, "->"),
			colorize(stateColor(to), to),
		)

	case "view", "view-end", "interaction", "scroll-depth", "dwell":
		target, _ := ev["target"].(string)
		site, _ := ev["site"].(string)
		session, _ := ev["session_id"].(string)
		meta, _ := ev["meta"].(map[string]any)
		return fmt.Sprintf("  %s %s %s %s  %s",
			when,
			colorize(eventColor(evType), padRight(evType, 12)),
			padRight(target, 14),
			colorize(dim, site+"/"+shortID(session)),
			describeMeta(evType, meta),
		)

	default:
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			return "  " + string(raw)
		}
		return "  " + string(pretty)
	}
}

// describeMeta picks the fields worth showing for each event type.
func describeMeta(typ string, meta map[string]any) string {
	num := func(k string) (float64, bool) {
		v, ok := meta[k].(float64)
		return v, ok
	}
	switch typ {
	case "view":
		if r, ok := num("ratio"); ok {
			return fmt.Sprintf("ratio %.2f", r)
		}
	case "view-end":
		d, _ := num("duration_ms")
		r, _ := num("ratio")
		return fmt.Sprintf("%s visible, max ratio %.2f", formatLatency(time.Duration(d)*time.Millisecond), r)
	case "scroll-depth":
		if d, ok := num("depth"); ok {
			return fmt.Sprintf("%.0f%%", d*100)
		}
	case "dwell":
		if ms, ok := num("interval_ms"); ok {
			return "+" + formatLatency(time.Duration(ms)*time.Millisecond)
		}
	}
	delete(meta, "scroll")
	delete(meta, "active")
	return compactMeta(meta)
}
