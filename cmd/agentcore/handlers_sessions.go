package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/sessions"
	"github.com/haasonsaas/agentcore/pkg/models"
	"github.com/spf13/cobra"
)

// =============================================================================
// Sessions Command Handlers
// =============================================================================

// openSessionStore opens the configured store without the rest of the runtime.
func openSessionStore(cmd *cobra.Command) (sessions.Store, *config.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := sessions.Open(cmd.Context(), cfg.Sessions)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return store, cfg, nil
}

func runSessionsList(cmd *cobra.Command, participant string, limit, offset int) error {
	store, cfg, err := openSessionStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if participant != "" {
		if a, ok := cfg.FindAgent(participant); ok {
			participant = a.ID
		}
	}
	convs, err := store.ListConversations(cmd.Context(), sessions.ListOptions{
		ParticipantID: participant,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if len(convs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversations found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tPARTICIPANTS\tMESSAGES\tUPDATED")
	for _, conv := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			conv.ID,
			truncateRunes(conv.Title, 40),
			strings.Join(conv.ParticipantIDs, ","),
			len(conv.Messages),
			conv.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, conversationID string, withSteps bool) error {
	store, _, err := openSessionStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	conv, err := store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return fmt.Errorf("conversation %s not found", conversationID)
		}
		return err
	}
	execs, err := store.ListSessions(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("list execution sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Conversation %s", conv.ID)
	if conv.Title != "" {
		fmt.Fprintf(out, " %q", conv.Title)
	}
	fmt.Fprintf(out, "\nParticipants: %s (group: %t)\n\n", strings.Join(conv.ParticipantIDs, ", "), conv.IsGroup())
	printTranscript(out, conv.Messages)

	if len(execs) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nExecution sessions:")
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tSTATUS\tSTEPS\tSTARTED\tEXPLANATION")
	for _, s := range execs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID, s.AgentID, s.Status, len(s.Steps), s.StartedAt.Format(time.RFC3339), truncateRunes(s.Explanation, 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if withSteps {
		for _, s := range execs {
			printSteps(out, s)
		}
	}
	return nil
}

func printTranscript(out io.Writer, msgs []models.Message) {
	for _, msg := range msgs {
		who := string(msg.Role)
		if msg.AgentID != "" {
			who += "/" + msg.AgentID
		}
		switch {
		case msg.Role == models.RoleTool:
			fmt.Fprintf(out, "[%s %s] %s\n", who, msg.ToolCallID, truncateRunes(msg.Content, 200))
		case len(msg.ImageData) > 0:
			fmt.Fprintf(out, "[%s] %s (image %s, %d bytes)\n", who, msg.Content, msg.ImageMimeType, len(msg.ImageData))
		default:
			fmt.Fprintf(out, "[%s] %s\n", who, msg.Content)
		}
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(out, "    -> %s(%s) id=%s\n", call.Name, call.ArgumentsJSON(), call.ID)
		}
	}
}

func printSteps(out io.Writer, s *models.ExecutionSession) {
	fmt.Fprintf(out, "\nSession %s (%s):\n", s.ID, s.AgentID)
	for _, step := range s.Steps {
		line := fmt.Sprintf("  %3d  iter=%d  %-14s", step.Index, step.Iteration, step.Kind)
		if step.ToolName != "" {
			line += fmt.Sprintf("  %s ok=%t", step.ToolName, step.Success)
		}
		if step.Content != "" {
			line += "  " + truncateRunes(step.Content, 80)
		}
		fmt.Fprintln(out, line)
	}
}

func runSessionsDelete(cmd *cobra.Command, conversationID string) error {
	store, _, err := openSessionStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteConversation(cmd.Context(), conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", conversationID)
	return nil
}

// openMigrator opens the configured SQL backend without migrating it.
func openMigrator(ctx context.Context) (*sessions.Migrator, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	dialect, dsn, ok := cfg.Sessions.SQLTarget()
	if !ok {
		return nil, nil, fmt.Errorf("sessions backend %q has no schema to migrate", cfg.Sessions.Backend)
	}
	db, err := sessions.OpenDB(ctx, dialect, dsn, nil)
	if err != nil {
		return nil, nil, err
	}
	migrator, err := sessions.NewMigrator(db, dialect)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return migrator, func() { db.Close() }, nil
}

func runSessionsMigrateUp(cmd *cobra.Command, steps int) error {
	migrator, closeFn, err := openMigrator(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", id)
	}
	return nil
}

func runSessionsMigrateStatus(cmd *cobra.Command) error {
	migrator, closeFn, err := openMigrator(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATION\tSTATUS\tAPPLIED")
	for _, m := range applied {
		fmt.Fprintf(w, "%s\tapplied\t%s\n", m.ID, m.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "%s\tpending\t-\n", m.ID)
	}
	return w.Flush()
}
