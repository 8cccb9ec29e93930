// Command areactl is the operator CLI for an areawatch installation: it
// appends and replays detections, generates reports offline and checks the
// SMTP setup.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/areawatch/areawatch/server/internal/config"
)

var (
	configPath string
	verbose    bool
	timeout    time.Duration
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "areactl",
	Short: "Operate an areawatch server and its detection log",
	Long: `areactl works directly on the files an areawatch server reads
(detection log, report directory) or talks to a running server over gRPC.

Paths default to the server configuration given with --config.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "server config file (missing file means defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "operation timeout")

	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(emailTestCmd)
}

// loadConfig reads --config, falling back to defaults when the file is absent.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
