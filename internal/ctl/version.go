package ctl

import (
	"fmt"
	"slices"
	"strings"

	"github.com/large-farva/sightline/internal/config"
	"github.com/large-farva/sightline/internal/transport"
)

// Build-time variables set via -ldflags.
var (
	Version   = "dev"
	GoVersion = "unknown"
)

type buildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at,omitempty"`
}

// tuningDiff is one engine setting where the daemon's running value differs
// from the default compiled into this CLI, which is what simulate uses.
type tuningDiff struct {
	Key    string `json:"key"`
	CLI    string `json:"cli"`
	Daemon string `json:"daemon"`
}

type versionReport struct {
	CLI            buildInfo    `json:"cli"`
	Daemon         *buildInfo   `json:"daemon,omitempty"`
	DaemonError    string       `json:"daemon_error,omitempty"`
	Site           string       `json:"site,omitempty"`
	Store          string       `json:"store,omitempty"`
	MaxBeaconBytes int          `json:"max_beacon_bytes"`
	TuningDrift    []tuningDiff `json:"tuning_drift,omitempty"`
}

// collectVersion asks the daemon for its build and running engine tuning.
// An unreachable daemon is reported, not returned.
func collectVersion(baseURL string) versionReport {
	baseURL = strings.TrimRight(baseURL, "/")
	rep := versionReport{
		CLI:            buildInfo{Version: Version, GoVersion: GoVersion},
		MaxBeaconBytes: transport.MaxBeaconBytes,
	}

	var daemon buildInfo
	if err := getJSON(baseURL, "/api/version", &daemon); err != nil {
		rep.DaemonError = err.Error()
		return rep
	}
	rep.Daemon = &daemon

	var cfg struct {
		Config config.Config `json:"config"`
	}
	if err := getJSON(baseURL, "/api/config", &cfg); err != nil {
		// Older daemons may not expose their config.
		return rep
	}
	rep.Site = cfg.Config.Engine.Site
	rep.Store = cfg.Config.Storage.Path
	rep.TuningDrift = engineDrift(config.Default().Engine, cfg.Config.Engine)
	return rep
}

func engineDrift(cli, daemon config.EngineConfig) []tuningDiff {
	var out []tuningDiff
	add := func(key string, a, b any) {
		as, bs := fmt.Sprint(a), fmt.Sprint(b)
		if as != bs {
			out = append(out, tuningDiff{Key: key, CLI: as, Daemon: bs})
		}
	}
	add("flush_interval_ms", cli.FlushIntervalMS, daemon.FlushIntervalMS)
	add("heartbeat_interval_ms", cli.HeartbeatIntervalMS, daemon.HeartbeatIntervalMS)
	add("idle_timeout_ms", cli.IdleTimeoutMS, daemon.IdleTimeoutMS)
	add("max_batch", cli.MaxBatch, daemon.MaxBatch)
	if !slices.Equal(cli.ScrollThresholds, daemon.ScrollThresholds) {
		add("scroll_thresholds", cli.ScrollThresholds, daemon.ScrollThresholds)
	}
	if !slices.Equal(cli.ViewThresholds, daemon.ViewThresholds) {
		add("view_thresholds", cli.ViewThresholds, daemon.ViewThresholds)
	}
	return out
}

// VersionInfo displays the CLI and daemon builds together with the
// collector's site, store and any engine tuning that differs from the
// CLI's defaults.
func VersionInfo(baseURL string, jsonOutput bool) error {
	rep := collectVersion(baseURL)
	if jsonOutput {
		return printJSON(rep)
	}

	fmt.Println()
	fmt.Println(header("  SIGHTLINE VERSION"))
	fmt.Println(rule(50))
	fmt.Printf("  %-12s %s\n", colorize(dim, "CLI:"), rep.CLI.Version+" ("+rep.CLI.GoVersion+")")
	if rep.Daemon == nil {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), colorize(red, "unreachable: "+rep.DaemonError))
		fmt.Println()
		return nil
	}
	fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), rep.Daemon.Version+" ("+rep.Daemon.GoVersion+")")
	if rep.Daemon.BuiltAt != "" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Built:"), rep.Daemon.BuiltAt)
	}
	if rep.Site != "" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Site:"), rep.Site)
	}
	if rep.Store != "" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Store:"), rep.Store)
	}
	fmt.Printf("  %-12s %s\n", colorize(dim, "Beacon:"), formatBytes(uint64(rep.MaxBeaconBytes))+" max")

	if len(rep.TuningDrift) == 0 {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Tuning:"), colorize(green, "matches CLI defaults"))
	} else {
		fmt.Printf("\n  %s\n", colorize(yellow, "Engine tuning differs from CLI defaults:"))
		tb := newTable("    ", "Setting", "CLI", "Daemon")
		for _, d := range rep.TuningDrift {
			tb.row(d.Key, d.CLI, d.Daemon)
		}
		tb.flush()
	}
	fmt.Println()

	return nil
}
