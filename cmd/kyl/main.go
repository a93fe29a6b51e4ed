// Command kyl replays penetration scenarios against the monitor engine offline
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tetherball88/Know-Your-Limits/config"
	"github.com/tetherball88/Know-Your-Limits/core"
	"github.com/tetherball88/Know-Your-Limits/logging"
)

var version = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "kyl",
	Short: "Know Your Limits bone penetration monitor tools",
	Long: `Offline tooling for the Know Your Limits penetration monitor.

Scenarios are YAML scripts describing actors, probe chains, target bones and
their motion. They run on an in-memory scene with the same engine, deform
channels and policies the plugin uses.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

// setup loads configuration and builds the logger every subcommand shares
func setup() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := logging.New(cfg.LoggingOptions())
	if err != nil {
		return nil, nil, err
	}
	core.SetCrashLogger(log.Logger)
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}
