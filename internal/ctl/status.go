package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	Mode           string `json:"mode"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	DBPath         string `json:"db_path"`
	DemoEnabled    bool   `json:"demo_enabled"`
	WSClients      int    `json:"ws_clients"`
	Batches        int64  `json:"batches"`
	EventsIngested int64  `json:"events_ingested"`
	Rejected       int64  `json:"rejected"`
	Disk           *struct {
		TotalBytes     uint64 `json:"total_bytes"`
		AvailableBytes uint64 `json:"available_bytes"`
	} `json:"disk,omitempty"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	stateStr := colorize(stateColor(s.State), s.State)

	fmt.Println()
	fmt.Println(header("  SIGHTLINE STATUS"))
	fmt.Println(rule(38))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), s.Name)
	fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "State:"), stateStr, s.Mode)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Printf("  %-12s %d events in %d batches\n", colorize(dim, "Ingested:"), s.EventsIngested, s.Batches)
	if s.Rejected > 0 {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Rejected:"), colorize(red, fmt.Sprint(s.Rejected)))
	}
	fmt.Printf("  %-12s %d\n", colorize(dim, "Watchers:"), s.WSClients)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Database:"), s.DBPath)
	if s.Disk != nil {
		fmt.Printf("  %-12s %s free of %s\n", colorize(dim, "Disk:"),
			formatBytes(s.Disk.AvailableBytes), formatBytes(s.Disk.TotalBytes))
	}
	fmt.Printf("  %-12s %s\n", colorize(dim, "Host:"), baseURL)
	fmt.Println()

	return nil
}
