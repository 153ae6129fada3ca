package main

import (
	"cmp"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

// buildVersion returns the ldflags version or "dev".
func buildVersion() string {
	return cmp.Or(version, "dev")
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "grimoire %s (built %s, %s/%s)\n",
			buildVersion(), cmp.Or(buildDate, "N/A"), runtime.GOOS, runtime.GOARCH)
	},
}
