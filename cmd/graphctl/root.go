// Command graphctl is the CLI companion to graphinit: it dials the control
// channel's Unix stream socket, sends one request line per invocation, and
// prints the response (spec.md §6). It exits 0 on success, 1 on any error,
// including an error response from the daemon itself.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "graphctl",
	Short: "Control companion for the graphinit capability supervisor",
	Long: `graphctl talks to a running graphinit process over its control
channel socket, sending one command per invocation and printing the
response.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/run/graph-resolver.sock", "control channel socket path")

	rootCmd.AddCommand(
		newStatusCmd(),
		newCapsCmd(),
		newTreeCmd(),
		newRdepsCmd(),
		newSimulateCmd(),
		newDotCmd(),
		newLogCmd(),
		newReadinessCmd(),
		newCheckReadinessCmd(),
		newUpgradeCmd(),
		newCheckpointCmd(),
		newRestoreCmd(),
		newCheckpointListCmd(),
		newCheckpointRmCmd(),
		newMigrateCmd(),
		newCheckCyclesCmd(),
		newAnalyzeCmd(),
		newValidateCmd(),
		newPathCmd(),
		newSCCCmd(),
		newKexecCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
