// Sightctl is the command-line client for a running sightlined. It queries
// status and stored events over HTTP, streams the live feed over WebSocket,
// and can replay a simulated page load against any collector.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/large-farva/sightline/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8090", "Sightline daemon URL (e.g. http://10.0.0.5:8090)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter view,interaction)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --limit are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "stats":
		err = ctl.Stats(*host, *jsonOut)

	case "recent":
		opts := ctl.RecentOptions{JSON: *jsonOut}
		recentFlags := pflag.NewFlagSet("recent", pflag.ContinueOnError)
		recentFlags.IntVar(&opts.Limit, "limit", 0, "Number of events to fetch (daemon default when 0)")
		recentFlags.StringVar(&opts.Type, "type", "", "Show only one event type")
		_ = recentFlags.Parse(subArgs)
		err = ctl.Recent(*host, opts)

	// ── Simulation ────────────────────────────────────────────────
	case "simulate":
		opts := ctl.SimulateOptions{JSON: *jsonOut}
		simFlags := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
		simFlags.StringVar(&opts.Endpoint, "endpoint", "", "Collector URL to deliver to (dry run when empty)")
		simFlags.StringVar(&opts.Site, "site", "sightctl", "Site identifier stamped on batches")
		simFlags.IntVar(&opts.Steps, "steps", 10, "Scroll steps from top to bottom")
		simFlags.Float64Var(&opts.Viewport, "viewport", 720, "Viewport height in pixels")
		simFlags.StringVar(&opts.Interact, "interact", "", "Track id to record an interaction on")
		simFlags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Log engine diagnostics to stderr")
		_ = simFlags.Parse(subArgs)
		if simFlags.NArg() > 0 {
			opts.Page = simFlags.Arg(0)
		}
		err = ctl.Simulate(opts)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		err = ctl.Watch(*host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  sightctl - sightline engagement collector CLI

  USAGE
    sightctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show daemon state, uptime, and ingest counters
    health          Check daemon and component health
    version         Show CLI and daemon version information
    config          Show the daemon's running configuration
    stats           Show aggregate event counts by type
    recent          List the most recently stored events

  COMMANDS (simulation)
    simulate [page.html]
                    Load a page, scroll it top to bottom and show what the
                    engine delivers (built-in article when no page is given)

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8090)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    recent:
        --limit N           Number of events to fetch
        --type TYPE         Show only one event type

    simulate:
        --endpoint URL      Collector to deliver to (dry run when empty)
        --site NAME         Site identifier (default: sightctl)
        --steps N           Scroll steps (default: 10)
        --viewport PX       Viewport height (default: 720)
        --interact ID       Record an interaction on this track id halfway down
        -v, --verbose       Log engine diagnostics to stderr

  EXAMPLES
    sightctl status
    sightctl --json status
    sightctl --host http://10.0.0.5:8090 watch
    sightctl watch --filter view,view-end
    sightctl recent --limit 20 --type interaction
    sightctl simulate
    sightctl simulate article.html --interact pricing
    sightctl simulate --endpoint http://127.0.0.1:8090/events

`)
}
