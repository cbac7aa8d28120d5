package cmd

import (
	"fmt"
	"runtime"

	"ratelimiter/internal/version"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit, and build date of ratelimiter.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		info := version.GetInfo()
		fmt.Fprintln(out, info.String())
		fmt.Fprintf(out, "  Go version: %s\n", info.GoVersion)
		fmt.Fprintf(out, "  Instance:   %s\n", info.InstanceID)
		fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
