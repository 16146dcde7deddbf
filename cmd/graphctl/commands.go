package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every component's state, pid, kind, and restart count",
		RunE:  func(cmd *cobra.Command, args []string) error { return run("status") },
	}
}

func newCapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "List every capability and its up/degraded/provider state",
		RunE:  func(cmd *cobra.Command, args []string) error { return run("caps") },
	}
}

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <component>",
		Short: "Show a component's provides, requires, and dependents",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return run("tree " + args[0]) },
	}
}

func newRdepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rdeps <capability>",
		Short: "List components that require a capability",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return run("rdeps " + args[0]) },
	}
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate graph operations without applying them",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <component>",
		Short: "Show what would be affected by removing a component",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return run("simulate remove " + args[0]) },
	})
	return cmd
}

func newDotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dot",
		Short: "Render the induced dependency graph in Graphviz dot format",
		RunE:  func(cmd *cobra.Command, args []string) error { return run("dot") },
	}
}

func newLogCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "log <component>",
		Short: "Tail a component's log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(fmt.Sprintf("log %s %d", args[0], lines))
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of trailing lines to show")
	return cmd
}

func newReadinessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readiness",
		Short: "List components currently waiting for readiness",
		RunE:  func(cmd *cobra.Command, args []string) error { return run("readiness") },
	}
}

func newCheckReadinessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-readiness [component]",
		Short: "Force an immediate readiness/resolve pass",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return run("check-readiness")
			}
			return run("check-readiness " + args[0])
		},
	}
}

func newUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <component>",
		Short: "Run the three-tier live upgrade for a component",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return run("upgrade " + args[0]) },
	}
}

func newCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <component>",
		Short: "Take a persistent checkpoint of a component",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return run("checkpoint " + args[0]) },
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <component> [id]",
		Short: "Restore a component from a checkpoint, latest by default",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return run("restore " + args[0])
			}
			return run("restore " + args[0] + " " + args[1])
		},
	}
}

func newCheckpointListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint-list [component]",
		Short: "List checkpoints, for one component or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return run("checkpoint-list")
			}
			return run("checkpoint-list " + args[0])
		},
	}
}

func newCheckpointRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint-rm <component> <id>",
		Short: "Remove a specific checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE:  func(cmd *cobra.Command, args []string) error { return run("checkpoint-rm " + args[0] + " " + args[1]) },
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <component>",
		Short: "Copy a component's latest ephemeral checkpoint to persistent storage",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return run("migrate " + args[0]) },
	}
}

func newCheckCyclesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-cycles",
		Short: "Report whether the current declaration graph has a cycle",
		RunE:  func(cmd *cobra.Command, args []string) error { return run("check-cycles") },
	}
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Summarize component and capability counts",
		RunE:  func(cmd *cobra.Command, args []string) error { return run("analyze") },
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate every declaration in the declaration directory",
		RunE:  func(cmd *cobra.Command, args []string) error { return run("validate") },
	}
}

func newPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path <cap1> <cap2>",
		Short: "Find a dependency path between two capabilities",
		Args:  cobra.ExactArgs(2),
		RunE:  func(cmd *cobra.Command, args []string) error { return run("path " + args[0] + " " + args[1]) },
	}
}

func newSCCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scc",
		Short: "List strongly connected components in the dependency graph",
		RunE:  func(cmd *cobra.Command, args []string) error { return run("scc") },
	}
}
