package ctl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/large-farva/sightline/internal/telemetry"
)

// RecentOptions controls the recent command.
type RecentOptions struct {
	Limit int    // 0 uses the daemon default
	Type  string // show only this event type
	JSON  bool
}

// Recent lists the most recently stored events, newest first.
func Recent(baseURL string, opts RecentOptions) error {
	path := "/events/recent"
	if opts.Limit > 0 {
		path += fmt.Sprintf("?limit=%d", opts.Limit)
	}

	var resp struct {
		Events []telemetry.StoredEvent `json:"events"`
	}
	if err := getJSON(baseURL, path, &resp); err != nil {
		return err
	}
	events := filterEvents(resp.Events, opts.Type)

	if opts.JSON {
		return printJSON(events)
	}

	fmt.Println()
	fmt.Println(header("  RECENT EVENTS"))
	if len(events) == 0 {
		fmt.Println(colorize(dim, "  no events stored yet"))
		fmt.Println()
		return nil
	}

	t := newTable("  ", "ID", "Time", "Type", "Target", "Site", "Session", "Latency", "Meta")
	t.alignRight(0)
	t.alignRight(6)
	for _, ev := range events {
		t.row(recentRow(ev)...)
	}
	t.flush()
	fmt.Println()
	return nil
}

func filterEvents(events []telemetry.StoredEvent, typ string) []telemetry.StoredEvent {
	if typ == "" {
		return events
	}
	out := make([]telemetry.StoredEvent, 0, len(events))
	for _, ev := range events {
		if string(ev.EventType) == typ {
			out = append(out, ev)
		}
	}
	return out
}

func recentRow(ev telemetry.StoredEvent) []string {
	latency := "?"
	if d, ok := ev.Latency(); ok {
		latency = formatLatency(d)
	}
	return []string{
		fmt.Sprintf("%d", ev.ID),
		formatTime(ev.OccurredAt),
		string(ev.EventType),
		ev.Target,
		ev.Site,
		shortID(ev.SessionID),
		latency,
		compactMeta(ev.Meta),
	}
}

// shortID keeps the first block of a UUID.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// compactMeta renders meta on one line, truncated for table output.
func compactMeta(m telemetry.Meta) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "?"
	}
	const maxLen = 60
	if len(b) > maxLen {
		return string(b[:maxLen-3]) + "..."
	}
	return string(b)
}
