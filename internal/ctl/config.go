package ctl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/large-farva/sightline/internal/config"
)

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var raw json.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	if jsonOutput {
		var v any
		_ = json.Unmarshal(raw, &v)
		return printJSON(v)
	}

	var resp struct {
		ConfigPath string        `json:"config_path"`
		Config     config.Config `json:"config"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return err
	}
	cfg := resp.Config

	fmt.Println()
	fmt.Println(header("  DAEMON CONFIGURATION"))
	fmt.Println(rule(50))
	if resp.ConfigPath != "" {
		fmt.Printf("  %s %s\n", colorize(dim, "loaded from"), resp.ConfigPath)
	}

	section := func(name string) {
		fmt.Printf("\n  %s\n", colorize(bold, "["+name+"]"))
	}
	field := func(key string, val any) {
		fmt.Printf("    %-24s %v\n", colorize(dim, key+":"), val)
	}

	section("server")
	field("bind", cfg.Server.Bind)

	section("logging")
	field("level", cfg.Logging.Level)

	section("storage")
	field("path", cfg.Storage.Path)
	field("recent_limit", cfg.Storage.RecentLimit)
	field("max_recent_limit", cfg.Storage.MaxRecentLimit)

	section("demo")
	field("enabled", cfg.Demo.Enabled)
	field("interval_seconds", cfg.Demo.IntervalSeconds)

	section("engine")
	field("endpoint", cfg.Engine.Endpoint)
	field("site", cfg.Engine.Site)
	field("flush_interval_ms", cfg.Engine.FlushIntervalMS)
	field("heartbeat_interval_ms", cfg.Engine.HeartbeatIntervalMS)
	field("idle_timeout_ms", cfg.Engine.IdleTimeoutMS)
	field("scroll_thresholds", cfg.Engine.ScrollThresholds)
	field("view_thresholds", cfg.Engine.ViewThresholds)
	field("max_batch", cfg.Engine.MaxBatch)

	section("tracing")
	field("endpoint", cfg.Tracing.Endpoint)
	field("service_name", cfg.Tracing.ServiceName)

	fmt.Println()

	return nil
}
