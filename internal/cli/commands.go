package cli

import (
	"os"
	"time"

	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/spf13/cobra"
)

// Command-specific flags
var (
	serveListen      string
	serveNoAutostart bool
	collectProxies   []int64
	collectNoStore   bool
	samplesProxies   []int64
	samplesSince     time.Duration
	samplesStart     string
	samplesEnd       string
	samplesLimit     int
	samplesTrend     bool
	pruneDays        int
	serverAddr       string
	statusFleet      bool
	taskProxies      []int64
	taskInterval     time.Duration
	watchTask        string
	initForce        bool
	topRefresh       time.Duration
	topProxies       []int64
)

// serveCmd runs the collection engine with its HTTP control surface
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collector, retention sweep and HTTP API",
	Long: `Start the collection engine and serve its HTTP control surface.

Tasks marked autostart in the config begin immediately. Samples are written
to the store and to any enabled sinks; old samples are pruned in the
background. The server exposes /api, a websocket status stream at /ws and
Prometheus metrics at /metrics.

Examples:
  proxymon serve
  proxymon serve --listen 0.0.0.0:8087
  proxymon serve --no-autostart`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCommand(cmd.Context(), serveListen, !serveNoAutostart)
	},
}

// collectCmd runs one collection from the terminal
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect from the fleet once and print the results",
	Long: `Probe every active proxy (or the ones given with --proxy) once and print
one row per host. Results are stored unless --no-store is given.

Examples:
  proxymon collect
  proxymon collect --proxy 1,4
  proxymon collect --json --no-store`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return collectCommand(cmd.Context(), collectProxies, collectNoStore, cmd.OutOrStdout())
	},
}

// samplesCmd queries the sample store
var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "Show stored samples",
	Long: `Read samples from the local store.

By default shows the newest samples collected in the last hour. --trend
draws a CPU and memory sparkline per proxy instead.

Examples:
  proxymon samples
  proxymon samples --proxy 2 --since 24h
  proxymon samples --start 2026-01-01T00:00:00Z --end 2026-01-02T00:00:00Z
  proxymon samples --trend`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := buildSampleQuery(time.Now(), samplesProxies, samplesSince, samplesStart, samplesEnd, samplesLimit)
		if err != nil {
			return err
		}
		return samplesCommand(cmd.Context(), q, samplesTrend, cmd.OutOrStdout())
	},
}

// pruneCmd runs one retention pass
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete samples older than the retention window",
	Long: `Run one retention pass against the sample store. 'proxymon serve' does
this on its own schedule; prune is for one-off cleanups.

Examples:
  proxymon prune
  proxymon prune --days 30`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return pruneCommand(cmd.Context(), pruneDays, cmd.OutOrStdout())
	},
}

// statusCmd shows task status from a running server
var statusCmd = &cobra.Command{
	Use:   "status [task]",
	Short: "Show collection task status",
	Long: `Ask a running 'proxymon serve' for the status of its tasks. With a task
id, shows that task in detail. --fleet lists the configured proxies instead
and needs no server.

Examples:
  proxymon status
  proxymon status default
  proxymon status --fleet`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusFleet {
			return fleetCommand(cmd.OutOrStdout())
		}
		taskID := ""
		if len(args) == 1 {
			taskID = args[0]
		}
		return statusCommand(cmd.Context(), serverAddr, taskID, cmd.OutOrStdout())
	},
}

// taskCmd groups task control subcommands
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Start or stop collection tasks on a running server",
}

var taskStartCmd = &cobra.Command{
	Use:   "start <task>",
	Short: "Start a collection task",
	Long: `Start a named collection task on a running server. Without --proxy the
task covers the whole fleet. The interval is clamped to 5s..1h.

Examples:
  proxymon task start default
  proxymon task start edge --proxy 1,2 --interval 30s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskStartCommand(cmd.Context(), serverAddr, args[0], taskProxies, taskInterval, cmd.OutOrStdout())
	},
}

var taskStopCmd = &cobra.Command{
	Use:   "stop <task>",
	Short: "Stop a collection task",
	Long: `Stop a named collection task. The cycle in flight finishes first.
Stopping a task that isn't running succeeds.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskStopCommand(cmd.Context(), serverAddr, args[0], cmd.OutOrStdout())
	},
}

// watchCmd streams status events
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream collection status events from a running server",
	Long: `Connect to the websocket status stream of a running server and print
each event as it arrives. Press Ctrl+C to stop.

Examples:
  proxymon watch
  proxymon watch --task default
  proxymon watch --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchCommand(cmd.Context(), serverAddr, watchTask, cmd.OutOrStdout())
	},
}

// topCmd runs the live dashboard
var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Live dashboard of the latest samples",
	Long: `Show the newest stored sample of every active proxy, refreshed in
place. Reads the local store, so run it next to 'proxymon serve'.

Press ? inside the dashboard for keyboard shortcuts.

Examples:
  proxymon top
  proxymon top --refresh 5s
  proxymon top --proxy 1 --proxy 2`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return topCommand(cmd.Context(), topRefresh, topProxies)
	},
}

// initCmd writes an example config
var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Create a proxymon.yaml configuration",
	Long: `Write a commented example config. Without a path it goes to
./proxymon.yaml.

Examples:
  proxymon init
  proxymon init ~/.config/proxymon/config.yaml
  proxymon init --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		return initCommand(path, initForce, cmd.OutOrStdout())
	},
}

// completionCmd generates shell completion scripts
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate a shell completion script for proxymon.

Examples:
  source <(proxymon completion bash)
  proxymon completion zsh > "${fpath[1]}/_proxymon"
  proxymon completion fish | source`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(os.Stdout)
		default:
			return errors.New(errors.ErrConfig,
				"Unknown shell: "+args[0],
				"Supported shells: bash, zsh, fish, powershell")
		}
	},
}

func init() {
	// serve command flags
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides server.listen)")
	serveCmd.Flags().BoolVar(&serveNoAutostart, "no-autostart", false, "don't start the tasks marked autostart")

	// collect command flags
	collectCmd.Flags().Int64SliceVar(&collectProxies, "proxy", nil, "proxy ids to collect from (default: whole fleet)")
	collectCmd.Flags().BoolVar(&collectNoStore, "no-store", false, "don't write the results to the store")

	// samples command flags
	samplesCmd.Flags().Int64SliceVar(&samplesProxies, "proxy", nil, "only these proxy ids")
	samplesCmd.Flags().DurationVar(&samplesSince, "since", time.Hour, "how far back to look when --start is not set")
	samplesCmd.Flags().StringVar(&samplesStart, "start", "", "range start (RFC3339)")
	samplesCmd.Flags().StringVar(&samplesEnd, "end", "", "range end (RFC3339)")
	samplesCmd.Flags().IntVar(&samplesLimit, "limit", 50, "maximum samples to show (0 for no limit)")
	samplesCmd.Flags().BoolVar(&samplesTrend, "trend", false, "show a sparkline per proxy")

	// prune command flags
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "retention window in days (default: retention.days)")

	// remote command flags
	for _, cmd := range []*cobra.Command{statusCmd, taskStartCmd, taskStopCmd, watchCmd} {
		cmd.Flags().StringVar(&serverAddr, "server", "", "server address (default: server.listen)")
	}
	statusCmd.Flags().BoolVar(&statusFleet, "fleet", false, "list the configured fleet")
	taskStartCmd.Flags().Int64SliceVar(&taskProxies, "proxy", nil, "proxy ids (default: whole fleet)")
	taskStartCmd.Flags().DurationVar(&taskInterval, "interval", 0, "collection interval (default: collection.interval)")
	watchCmd.Flags().StringVar(&watchTask, "task", "", "only show events of this task")

	// top command flags
	topCmd.Flags().DurationVar(&topRefresh, "refresh", 2*time.Second, "how often to re-read the store")
	topCmd.Flags().Int64SliceVar(&topProxies, "proxy", nil, "only these proxy ids")

	// init command flags
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing config")

	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskStopCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(samplesCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(completionCmd)
}
