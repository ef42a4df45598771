package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/rileyhilliard/proxymon/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Global flags
var (
	cfgFile  string
	verbose  bool
	noColor  bool
	jsonFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "proxymon",
	Short: "Collect health telemetry from a proxy fleet",
	Long: `proxymon polls a fleet of proxy appliances over SNMP and SSH, derives
bandwidth rates from raw counters and stores time-stamped samples.

Run 'proxymon init' to write a config, then 'proxymon serve' to start
collecting. 'proxymon collect' runs a single collection from the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		machineMode = jsonFlag
		if verbose {
			_ = os.Setenv(logger.DebugEnv, "1")
		}
		if noColor || machineMode || !isTerminal(os.Stdout) {
			ui.DisableColors()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./proxymon.yaml, then ~/.config/proxymon/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "machine-readable JSON output")
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if machineMode {
			_ = WriteJSONFromError(os.Stdout, err)
		} else if isUnknownCommandError(err) {
			fmt.Fprintf(os.Stderr, "✗ %s\n\n  Run 'proxymon --help' to see the available commands\n", err)
		} else {
			fmt.Fprint(os.Stderr, err.Error())
			if !strings.HasSuffix(err.Error(), "\n") {
				fmt.Fprintln(os.Stderr)
			}
		}
		os.Exit(1)
	}
}

// Config returns the --config flag value. Empty lets config.Find search.
func Config() string {
	return cfgFile
}

func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag")
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
