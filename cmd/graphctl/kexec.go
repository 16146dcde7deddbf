package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newKexecCmd() *cobra.Command {
	var dryRun bool
	var initrd string
	var cmdline string

	cmd := &cobra.Command{
		Use:   "kexec <kernel>",
		Short: "Validate, checkpoint, and load a new kernel for a live kernel transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var b strings.Builder
			b.WriteString("kexec ")
			if dryRun {
				b.WriteString("--dry-run ")
			}
			if initrd != "" {
				fmt.Fprintf(&b, "--initrd %s ", initrd)
			}
			if cmdline != "" {
				fmt.Fprintf(&b, "--append %q ", cmdline)
			}
			b.WriteString(args[0])
			return run(b.String())
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the validation checks only; checkpoint nothing and load no kernel")
	cmd.Flags().StringVar(&initrd, "initrd", "", "path to the initrd/initramfs image")
	cmd.Flags().StringVar(&cmdline, "append", "", "kernel command line to append")
	return cmd
}
