// Package cmd provides the CLI commands for the rate limiter.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "ratelimiter",
	Short: "Token-bucket rate limiting service",
	Long: `ratelimiter answers "may this client spend N tokens right now?" over HTTP.

Each client key owns a bucket that refills continuously. Checks spend tokens
when enough are available and report how long to wait when they are not.

Configuration:
  Defaults are overridden by an optional .env file, then a YAML file given
  with --config, then RATELIMITER_* environment variables.
  Example: RATELIMITER_SERVER_PORT=9000

Commands:
  serve           Start the HTTP server
  config example  Write an example configuration file
  version         Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a dotenv file (default: ./.env when present)")
}
