// Package cli implements instrrolctl, the operator tool for querying the FAQ
// assistant and checking ladder circuits without running the server.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "instrrolctl",
	Short: "INSTRROL 2K26 operator tool",
	Long: `instrrolctl runs the INSTRROL FAQ assistant and the PLC ladder engine
offline, using the same embedded rule table and levels as the server.

Use it to check how the assistant answers a question or whether a rung
solves a level before changing the YAML documents.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "instrrolctl %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
