package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Sessions Commands
// =============================================================================

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored conversations and execution sessions",
		Long: `Inspect the conversations and execution sessions kept by the configured
session store (sessions.backend). The memory backend keeps nothing between
invocations; use file, sqlite or postgres to browse earlier runs.`,
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsShowCmd(),
		buildSessionsDeleteCmd(),
		buildSessionsMigrateCmd(),
	)
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var (
		participant string
		limit       int
		offset      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, participant, limit, offset)
		},
	}
	cmd.Flags().StringVar(&participant, "agent", "", "Only conversations this agent takes part in")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum conversations to list (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Conversations to skip")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var withSteps bool
	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation transcript and its execution sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, args[0], withSteps)
		},
	}
	cmd.Flags().BoolVar(&withSteps, "steps", false, "Include every execution step")
	return cmd
}

func buildSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation and its execution sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd, args[0])
		},
	}
}

func buildSessionsMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL session store schema",
		Long: `Apply or inspect schema migrations for the sqlite and postgres backends.
Stores also migrate themselves when opened; these commands exist for
operators who prefer to migrate ahead of a rollout.`,
	}

	var steps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsMigrateUp(cmd, steps)
		},
	}
	up.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply (0 for all)")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsMigrateStatus(cmd)
		},
	}

	cmd.AddCommand(up, status)
	return cmd
}
