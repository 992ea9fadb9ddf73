package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Run / Chat Commands
// =============================================================================

type conversationFlags struct {
	agents         []string
	conversationID string
	title          string
}

func (f *conversationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.agents, "agent", "a", nil, "Agent ID or name; repeat to start a group conversation (first agent answers unmentioned messages)")
	cmd.Flags().StringVar(&f.conversationID, "conversation", "", "Continue an existing conversation by ID")
	cmd.Flags().StringVar(&f.title, "title", "", "Title for a new conversation")
}

func buildRunCmd() *cobra.Command {
	var flags conversationFlags
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Send one message and print the reply",
		Long: `Send one user message to a new or existing conversation and print the
replies. In a group conversation, agents mentioned with @Name respond and may
hand off to each other until the delegation depth limit is reached.`,
		Example: `  # Ask a single agent
  agentcore run --agent researcher "What changed in the last release?"

  # Start a group conversation and address one participant
  agentcore run -a researcher -a critic "@critic review the plan in PLAN.md"

  # Continue a stored conversation
  agentcore run --conversation 4f1c... "and the tests?"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, flags, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

func buildChatCmd() *cobra.Command {
	var flags conversationFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Read messages from standard input, one per line, and print the replies.
Type /exit or press Ctrl-D to leave. The conversation ID is printed on exit so
the session can be resumed with --conversation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}
