// Package cmd implements the dashflow command line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jmylchreest/dashflow/internal/version"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "dashflow",
	Short:         "DASH to HLS streaming proxy",
	Long:          "dashflow proxies DASH streams as HLS playlists, caching manifests and initialization segments along the way.",
	Version:       version.Short(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")
}
