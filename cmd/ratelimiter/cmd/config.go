package cmd

import (
	"fmt"

	"ratelimiter/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configExampleCmd = &cobra.Command{
	Use:   "example <path>",
	Short: "Write an example configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SaveExample(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Example configuration written to %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configExampleCmd)
	rootCmd.AddCommand(configCmd)
}
