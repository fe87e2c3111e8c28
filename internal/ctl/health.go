package ctl

import (
	"fmt"
	"slices"
	"strings"
)

// HealthResponse mirrors the JSON form of GET /healthz.
type HealthResponse struct {
	Healthy bool                      `json:"healthy"`
	Checks  map[string]map[string]any `json:"checks"`
}

// Health checks daemon liveness and prints each component check.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var h HealthResponse
	status, err := getHealth(baseURL, &h)
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	if jsonOutput {
		return printJSON(h)
	}

	fmt.Println()
	if h.Healthy {
		fmt.Printf("  %s  sightlined is reachable at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Printf("  %s  sightlined returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c := h.Checks[name]
		mark := colorize(green, "ok  ")
		if ok, _ := c["ok"].(bool); !ok {
			mark = colorize(red, "FAIL")
		}
		detail := ""
		if msg, ok := c["error"].(string); ok {
			detail = msg
		} else if ms, ok := c["latency_ms"].(float64); ok {
			detail = fmt.Sprintf("%.0fms", ms)
		} else if n, ok := c["clients"].(float64); ok {
			detail = fmt.Sprintf("%.0f clients", n)
		}
		fmt.Printf("    %s %s %s\n", mark, padRight(name, 10), colorize(dim, detail))
	}
	fmt.Println()

	return nil
}
