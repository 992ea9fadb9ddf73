package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/multiagent"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// =============================================================================
// Run / Chat Command Handlers
// =============================================================================

const maxTitleRunes = 60

// runOnce sends a single message and prints the replies.
func runOnce(cmd *cobra.Command, flags conversationFlags, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	conv, err := resolveConversation(ctx, rt, flags, prompt)
	if err != nil {
		return err
	}
	err = sendAndPrint(ctx, rt, conv, prompt, cmd.OutOrStdout(), cmd.ErrOrStderr())
	fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", conv.ID)
	return err
}

// runChat reads one message per line until EOF or /exit.
func runChat(cmd *cobra.Command, flags conversationFlags) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())
	stopWatch := watchAgentConfig(ctx, rt)
	defer stopWatch()

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	in := cmd.InOrStdin()
	interactive := isTerminal(in)

	var conv *models.Conversation
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			break
		}

		if conv == nil {
			conv, err = resolveConversation(ctx, rt, flags, line)
			if err != nil {
				return err
			}
			if interactive {
				fmt.Fprintf(errOut, "conversation %s with %s\n", conv.ID, strings.Join(conv.ParticipantIDs, ", "))
			}
		}
		if err := sendAndPrint(ctx, rt, conv, line, out, errOut); err != nil {
			if ctx.Err() != nil {
				break
			}
			// A failed turn is reported and the chat continues.
			fmt.Fprintf(errOut, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if conv != nil {
		fmt.Fprintf(errOut, "conversation: %s\n", conv.ID)
	}
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// resolveConversation loads the conversation named by --conversation or
// creates one with the --agent participants, defaulting to the first
// configured agent.
func resolveConversation(ctx context.Context, rt *runtime, flags conversationFlags, firstMessage string) (*models.Conversation, error) {
	if id := strings.TrimSpace(flags.conversationID); id != "" {
		if len(flags.agents) > 0 {
			return nil, errors.New("--agent cannot be combined with --conversation")
		}
		return rt.store.GetConversation(ctx, id)
	}

	names := flags.agents
	if len(names) == 0 {
		if len(rt.cfg.Agents) == 0 {
			return nil, errors.New("no agents configured")
		}
		names = []string{rt.cfg.Agents[0].ID}
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		a, ok := rt.cfg.FindAgent(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", multiagent.ErrUnknownAgent, name)
		}
		if !slices.Contains(ids, a.ID) {
			ids = append(ids, a.ID)
		}
	}

	title := strings.TrimSpace(flags.title)
	if title == "" {
		title = truncateRunes(firstMessage, maxTitleRunes)
	}
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		Title:          title,
		ParticipantIDs: ids,
	}
	if err := rt.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// sendAndPrint sends text to the conversation, streaming progress to errOut
// and replies to out.
func sendAndPrint(ctx context.Context, rt *runtime, conv *models.Conversation, text string, out, errOut io.Writer) error {
	p := &printer{
		out:    out,
		errOut: errOut,
		group:  conv.IsGroup(),
		stream: rt.cfg.Loop.Stream,
		names:  map[string]string{},
	}
	for _, id := range conv.ParticipantIDs {
		if a, ok := rt.router.Agent(id); ok && a.Name != "" {
			p.names[id] = a.Name
		}
	}

	updates := make(chan multiagent.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			p.handle(u)
		}
	}()

	turns, err := rt.router.Send(ctx, conv.ID, text, updates)
	close(updates)
	<-done
	p.finish(turns)
	return err
}

// printer renders router updates for a terminal.
type printer struct {
	out, errOut io.Writer
	group       bool
	stream      bool
	names       map[string]string

	// streaming is the agent whose partial output is on the current line.
	streaming string
}

func (p *printer) name(agentID string) string {
	if n, ok := p.names[agentID]; ok {
		return n
	}
	return agentID
}

func (p *printer) handle(u multiagent.Update) {
	switch u.Kind {
	case agent.UpdatePartial:
		if !p.stream {
			return
		}
		if p.streaming != u.AgentID {
			p.endLine()
			if p.group {
				fmt.Fprintf(p.out, "%s: ", p.name(u.AgentID))
			}
			p.streaming = u.AgentID
		}
		fmt.Fprint(p.out, u.Content)
	case agent.UpdateToolCall:
		if u.ToolCall == nil {
			return
		}
		p.endLine()
		fmt.Fprintf(p.errOut, "[%s] %s\n", p.name(u.AgentID), tools.Describe(*u.ToolCall).Summary())
	case agent.UpdateToolResult:
		if u.Message != nil && strings.HasPrefix(u.Message.Content, "Error") {
			fmt.Fprintf(p.errOut, "[%s] %s\n", p.name(u.AgentID), truncateRunes(u.Message.Content, 200))
		}
	case agent.UpdateTerminal:
		p.endLine()
		if u.Status != models.StatusCompleted && u.Explanation != "" {
			fmt.Fprintf(p.errOut, "[%s] %s: %s\n", p.name(u.AgentID), u.Status, u.Explanation)
		}
	}
}

func (p *printer) endLine() {
	if p.streaming != "" {
		fmt.Fprintln(p.out)
		p.streaming = ""
	}
}

// finish prints the final replies when output was not streamed.
func (p *printer) finish(turns []multiagent.Turn) {
	p.endLine()
	for _, t := range turns {
		if t.Result == nil {
			continue
		}
		if t.Result.Truncated {
			fmt.Fprintf(p.errOut, "[%s] stopped after %d iterations\n", p.name(t.AgentID), t.Result.Iterations)
		}
		if p.stream || t.Silent || t.Result.Content == "" {
			continue
		}
		if p.group {
			fmt.Fprintf(p.out, "%s: %s\n", p.name(t.AgentID), t.Result.Content)
		} else {
			fmt.Fprintln(p.out, t.Result.Content)
		}
	}
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
