package main

import (
	"fmt"
	"runtime/debug"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/spf13/cobra"
)

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "agentcore %s\n", version)
			fmt.Fprintf(out, "  commit:         %s\n", commit)
			fmt.Fprintf(out, "  built:          %s\n", date)
			fmt.Fprintf(out, "  config version: %d\n", config.CurrentVersion)
			if info, ok := debug.ReadBuildInfo(); ok {
				fmt.Fprintf(out, "  go:             %s\n", info.GoVersion)
			}
			return nil
		},
	}
}
