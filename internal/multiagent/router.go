// Package multiagent routes group conversations between agents. After an
// agent's turn the router looks for @Name mentions of peers in its final reply
// and runs each mentioned peer against the freshest transcript, bounded by a
// hand-off budget.
package multiagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/audit"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/sessions"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// DefaultDepthLimit bounds the number of hand-offs that follow one user turn.
const DefaultDepthLimit = 20

// terminalForwardGrace is how long a run's final update may wait for the
// consumer once ctx has ended.
const terminalForwardGrace = 2 * time.Second

var (
	// ErrUnknownAgent is returned when an agent ID is not registered with the router.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrNotParticipant is returned when an agent is asked to respond in a
	// conversation it does not take part in.
	ErrNotParticipant = errors.New("agent is not a participant")
)

// Runner executes one agent run. *agent.ExecutionLoop satisfies it.
type Runner interface {
	Run(ctx context.Context, in agent.RunInput, updates chan<- agent.Update) (*agent.RunResult, error)
}

// ToolLister resolves the tools offered to an agent. *tools.Catalog satisfies it.
type ToolLister interface {
	ListFor(enabled []string) []models.ToolSchema
	ListExcludingDesktopControl(enabled []string) []models.ToolSchema
}

// RouterConfig configures a Router.
type RouterConfig struct {
	// DepthLimit is the maximum number of hand-offs per user turn, so at most
	// DepthLimit+1 agent runs follow one message. Extra agents mentioned in
	// the user message count as hand-offs.
	DepthLimit     int
	AgentMode      bool
	DesktopControl bool
	// ModePrompt is prepended to every agent's system prompt.
	ModePrompt string
	// Sessions, when set, receives the execution session of every run.
	Sessions sessions.SessionStore
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Audit    *audit.Logger
}

// Update is a loop update tagged with the agent that produced it.
type Update struct {
	AgentID string
	Depth   int
	agent.Update
}

// Turn is one agent run performed while answering a user message.
type Turn struct {
	AgentID string
	// Depth is the hand-off nesting level; the first responder is at 0.
	Depth  int
	Result *agent.RunResult
	// Silent is set when the reply was only the silence marker and was dropped.
	Silent bool
}

// Router runs agents in conversations and follows peer mentions.
type Router struct {
	runner Runner
	store  sessions.ConversationStore
	tools  ToolLister
	agents map[string]models.Agent
	config RouterConfig
	logger *slog.Logger
}

// NewRouter creates a router over a fixed set of agents.
func NewRouter(runner Runner, store sessions.ConversationStore, tools ToolLister, agents []models.Agent, config RouterConfig) (*Router, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if config.DepthLimit <= 0 {
		config.DepthLimit = DefaultDepthLimit
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	byID := make(map[string]models.Agent, len(agents))
	for _, a := range agents {
		if a.ID == "" {
			return nil, errors.New("agent ID is required")
		}
		if _, dup := byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate agent %q", a.ID)
		}
		byID[a.ID] = a.Clone()
	}

	return &Router{
		runner: runner,
		store:  store,
		tools:  tools,
		agents: byID,
		config: config,
		logger: logger.With("component", "multiagent"),
	}, nil
}

// Agent returns a registered agent by ID.
func (r *Router) Agent(id string) (models.Agent, bool) {
	a, ok := r.agents[id]
	if !ok {
		return models.Agent{}, false
	}
	return a.Clone(), true
}

// Send appends a user message and lets the conversation answer it. In a group
// the agents mentioned in text respond in order; without mentions the first
// participant does.
func (r *Router) Send(ctx context.Context, conversationID, text string, updates chan<- Update) ([]Turn, error) {
	if err := r.store.AppendMessages(ctx, conversationID, models.Message{Role: models.RoleUser, Content: text}); err != nil {
		return nil, err
	}
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	participants := r.participants(conv)
	if len(participants) == 0 {
		return nil, fmt.Errorf("conversation %s has no known participants: %w", conversationID, ErrUnknownAgent)
	}
	responders := participants[:1]
	if conv.IsGroup() {
		if mentioned := Mentions(text, "", participants); len(mentioned) > 0 {
			responders = mentioned
		}
	}

	st := &routeState{updates: updates}
	for i, a := range responders {
		// Every mentioned agent after the first spends one hand-off.
		if i > 0 {
			if st.handoffs >= r.config.DepthLimit {
				r.logger.Info("hand-off limit reached", "agent_id", a.ID, "limit", r.config.DepthLimit)
				break
			}
			st.handoffs++
		}
		if err := r.respond(ctx, conversationID, a.ID, 0, st); err != nil {
			return st.turns, err
		}
	}
	return st.turns, nil
}

// Respond runs agentID against the conversation's current transcript and
// follows any hand-offs its reply makes. The caller appends the user turn.
func (r *Router) Respond(ctx context.Context, conversationID, agentID string, updates chan<- Update) ([]Turn, error) {
	st := &routeState{updates: updates}
	err := r.respond(ctx, conversationID, agentID, 0, st)
	return st.turns, err
}

// routeState is shared by every run that follows one user message.
type routeState struct {
	handoffs int
	turns    []Turn
	updates  chan<- Update
}

func (r *Router) respond(ctx context.Context, conversationID, agentID string, depth int, st *routeState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	self, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	// Re-read so a delegated peer sees everything earlier runs appended.
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !slices.Contains(conv.ParticipantIDs, agentID) {
		return fmt.Errorf("%w: %s in %s", ErrNotParticipant, agentID, conversationID)
	}

	group := conv.IsGroup()
	peers := r.peers(conv, agentID)
	canDelegate := group && st.handoffs < r.config.DepthLimit

	in := agent.RunInput{
		Agent:          self.Clone(),
		Messages:       conv.Messages,
		Tools:          r.toolsFor(self),
		SystemPrompt:   r.systemPrompt(self, peers, group, st.handoffs),
		ConversationID: conversationID,
		AgentMode:      r.config.AgentMode,
		DesktopControl: r.config.DesktopControl,
	}

	res, runErr := r.run(ctx, in, depth, st.updates)
	if res == nil {
		return runErr
	}

	msgs, reply, silent := applySilence(res.Messages)
	res.Messages = msgs
	if silent {
		res.Content = ""
	} else if reply != "" {
		res.Content = reply
	}
	st.turns = append(st.turns, Turn{AgentID: agentID, Depth: depth, Result: res, Silent: silent})

	// Persist even when the run failed so partial work stays in the transcript.
	persistCtx := context.WithoutCancel(ctx)
	if len(msgs) > 0 {
		if err := r.store.AppendMessages(persistCtx, conversationID, msgs...); err != nil {
			return errors.Join(runErr, fmt.Errorf("append messages: %w", err))
		}
	}
	if r.config.Sessions != nil && res.Session != nil {
		if err := r.config.Sessions.SaveSession(persistCtx, res.Session); err != nil {
			r.logger.Warn("failed to save execution session", "session_id", res.Session.ID, "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	if !group || silent {
		return nil
	}
	if !canDelegate {
		if len(Mentions(reply, agentID, peers)) > 0 {
			r.logger.Info("hand-off limit reached, not following mentions",
				"agent_id", agentID, "conversation_id", conversationID, "limit", r.config.DepthLimit)
		}
		return nil
	}

	for _, peer := range Mentions(reply, agentID, peers) {
		if st.handoffs >= r.config.DepthLimit {
			r.logger.Info("hand-off limit reached", "agent_id", agentID, "limit", r.config.DepthLimit)
			return nil
		}
		st.handoffs++
		r.config.Audit.LogAgentHandoff(ctx, agentID, peer.ID, conversationID, depth+1)
		r.config.Metrics.RecordDelegation()
		r.logger.Debug("handing off", "from", agentID, "to", peer.ID, "conversation_id", conversationID, "depth", depth+1)

		if err := r.respond(ctx, conversationID, peer.ID, depth+1, st); err != nil {
			return err
		}
	}
	return nil
}

// run forwards the loop's updates to the caller tagged with the agent ID.
func (r *Router) run(ctx context.Context, in agent.RunInput, depth int, out chan<- Update) (*agent.RunResult, error) {
	if out == nil {
		return r.runner.Run(ctx, in, nil)
	}
	ch := make(chan agent.Update)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range ch {
			fwd := Update{AgentID: in.Agent.ID, Depth: depth, Update: u}
			select {
			case out <- fwd:
			case <-ctx.Done():
				if u.Kind == agent.UpdateTerminal {
					forwardLate(out, fwd)
				}
			}
		}
	}()
	res, err := r.runner.Run(ctx, in, ch)
	close(ch)
	<-done
	return res, err
}

func forwardLate(out chan<- Update, u Update) {
	timer := time.NewTimer(terminalForwardGrace)
	defer timer.Stop()
	select {
	case out <- u:
	case <-timer.C:
	}
}

func (r *Router) systemPrompt(self models.Agent, peers []models.Agent, group bool, handoffs int) string {
	parts := make([]string, 0, 3)
	if p := strings.TrimSpace(r.config.ModePrompt); p != "" {
		parts = append(parts, p)
	}
	if group {
		parts = append(parts, RosterPrompt(self, peers, handoffs, r.config.DepthLimit))
	}
	if p := strings.TrimSpace(self.Configuration.SystemPrompt); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, "\n\n")
}

func (r *Router) toolsFor(a models.Agent) []models.ToolSchema {
	if r.tools == nil {
		return nil
	}
	if r.config.DesktopControl {
		return r.tools.ListFor(a.Configuration.EnabledTools)
	}
	return r.tools.ListExcludingDesktopControl(a.Configuration.EnabledTools)
}

func (r *Router) participants(conv *models.Conversation) []models.Agent {
	out := make([]models.Agent, 0, len(conv.ParticipantIDs))
	for _, id := range conv.ParticipantIDs {
		if a, ok := r.agents[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (r *Router) peers(conv *models.Conversation, self string) []models.Agent {
	all := r.participants(conv)
	out := all[:0]
	for _, a := range all {
		if a.ID != self {
			out = append(out, a)
		}
	}
	return out
}

// applySilence strips the silence marker from assistant messages. A final
// reply that is empty after stripping is removed. It returns the kept
// messages, the final reply text and whether the reply was silent.
func applySilence(msgs []models.Message) ([]models.Message, string, bool) {
	out := make([]models.Message, 0, len(msgs))
	var (
		reply  string
		silent bool
	)
	for i, msg := range msgs {
		final := i == len(msgs)-1
		if msg.Role == models.RoleAssistant {
			if stripped, found := StripEOF(msg.Content); found {
				msg.Content = stripped
				if stripped == "" && len(msg.ToolCalls) == 0 {
					if final {
						silent = true
					}
					continue
				}
			}
			if final && len(msg.ToolCalls) == 0 {
				reply = msg.Content
			}
		}
		out = append(out, msg)
	}
	return out, reply, silent
}
