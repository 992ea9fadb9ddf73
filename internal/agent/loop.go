// Package agent runs the execution loop: it alternates model turns and tool
// calls for one agent until the model answers, the iteration cap is hit or
// the caller cancels.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/internal/agent/providers"
	"github.com/haasonsaas/agentcore/internal/audit"
	"github.com/haasonsaas/agentcore/internal/media"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

const (
	DefaultMaxIterations     = 10
	AgentModeMaxIterations   = 30
	DefaultScreenSettleDelay = time.Second

	// terminalSendGrace bounds delivery of the final update after the run's
	// context has ended.
	terminalSendGrace = 2 * time.Second
)

// ModelClient sends requests to a named backend. *providers.Client
// implements it.
type ModelClient interface {
	Complete(ctx context.Context, provider string, req *providers.Request) (*providers.Response, error)
	Stream(ctx context.Context, provider string, req *providers.Request) (<-chan providers.StreamEvent, error)
}

// ScreenArbiter counts runs that drive the desktop. *screen.Arbiter
// implements it.
type ScreenArbiter interface {
	Acquire(runID string) bool
	Release(runID string) bool
}

// LoopConfig configures an ExecutionLoop.
type LoopConfig struct {
	// MaxIterations caps model calls per run. Default: 10.
	MaxIterations int

	// AgentModeMaxIterations replaces MaxIterations for agent-mode runs.
	// Default: 30.
	AgentModeMaxIterations int

	// ScreenSettleDelay is the wait between the last desktop action of an
	// iteration and the refresh screenshot. Default: 1s.
	ScreenSettleDelay time.Duration

	// Stream selects streaming model calls.
	Stream bool

	// Capturer grabs the screen for refresh screenshots. Nil disables
	// screen refresh.
	Capturer     media.Capturer
	ImageOptions media.Options

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Audit   *audit.Logger
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:          DefaultMaxIterations,
		AgentModeMaxIterations: AgentModeMaxIterations,
		ScreenSettleDelay:      DefaultScreenSettleDelay,
	}
}

func sanitizeLoopConfig(cfg LoopConfig) LoopConfig {
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.AgentModeMaxIterations <= 0 {
		cfg.AgentModeMaxIterations = defaults.AgentModeMaxIterations
	}
	if cfg.ScreenSettleDelay < 0 {
		cfg.ScreenSettleDelay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// ExecutionLoop drives runs for any number of agents. It is safe for
// concurrent use; a conversation may have only one active run at a time.
//
// Each run moves through
//
//	idle → thinking → (tool_pending → executing → thinking)* → completed | failed | cancelled
type ExecutionLoop struct {
	client   ModelClient
	tools    ToolInvoker
	recorder Recorder
	arbiter  ScreenArbiter
	config   LoopConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	mu     sync.Mutex
	active map[string]struct{}
}

// NewExecutionLoop creates a loop. recorder and arbiter may be nil.
func NewExecutionLoop(client ModelClient, invoker ToolInvoker, recorder Recorder, arbiter ScreenArbiter, config LoopConfig) *ExecutionLoop {
	config = sanitizeLoopConfig(config)
	return &ExecutionLoop{
		client:   client,
		tools:    invoker,
		recorder: recorder,
		arbiter:  arbiter,
		config:   config,
		logger:   config.Logger.With("component", "agent"),
		metrics:  config.Metrics,
		tracer:   config.Tracer,
		active:   make(map[string]struct{}),
	}
}

// RunInput is everything one run needs. Messages already include the new
// user turn; SystemPrompt is composed by the caller and falls back to the
// agent's own prompt when empty.
type RunInput struct {
	Agent          models.Agent
	Messages       []models.Message
	Tools          []models.ToolSchema
	SystemPrompt   string
	ConversationID string
	AgentMode      bool
	DesktopControl bool
}

// RunResult describes a finished run.
type RunResult struct {
	Session *models.ExecutionSession
	// Messages are the messages the run appended, in order.
	Messages     []models.Message
	Content      string
	FinishReason string
	Usage        providers.Usage
	Iterations   int
	// Truncated is set when the iteration cap stopped the run. Warning then
	// holds ErrMaxIterationsReached.
	Truncated bool
	Warning   error
}

// Run executes one run. Updates are sent in order on updates, which may be
// nil; the caller must keep receiving until Run returns. Run never closes
// updates.
//
// A run stopped by the iteration cap returns a completed result and a nil
// error. A provider failure returns a failed result, with any streamed
// partial content, and a *LoopError. A cancelled run returns a cancelled
// result and an error matching ErrCancelled.
func (l *ExecutionLoop) Run(ctx context.Context, in RunInput, updates chan<- Update) (*RunResult, error) {
	if strings.TrimSpace(in.Agent.Configuration.Provider) == "" {
		return nil, &LoopError{Phase: PhaseInit, Cause: ErrNoProvider}
	}
	if !l.begin(in.ConversationID) {
		return nil, ErrAlreadyExecuting
	}
	defer l.end(in.ConversationID)

	r := l.newRun(in, updates)
	ctx, span := l.tracer.TraceRun(ctx, r.agent.ID, in.ConversationID)
	defer span.End()
	defer r.releaseScreen()

	err := r.execute(ctx)
	if err != nil {
		l.tracer.RecordError(span, err)
	}
	return r.result(), err
}

// Active reports whether conversationID has a run in progress.
func (l *ExecutionLoop) Active(conversationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[conversationID]
	return ok
}

func (l *ExecutionLoop) begin(conversationID string) bool {
	if conversationID == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[conversationID]; busy {
		return false
	}
	l.active[conversationID] = struct{}{}
	return true
}

func (l *ExecutionLoop) end(conversationID string) {
	if conversationID == "" {
		return
	}
	l.mu.Lock()
	delete(l.active, conversationID)
	l.mu.Unlock()
}

func (l *ExecutionLoop) maxIterations(agentMode bool) int {
	if agentMode {
		return l.config.AgentModeMaxIterations
	}
	return l.config.MaxIterations
}

// run is the state of one invocation.
type run struct {
	loop    *ExecutionLoop
	in      RunInput
	agent   models.Agent
	session *models.ExecutionSession
	updates chan<- Update
	logger  *slog.Logger

	history      []models.Message
	appended     []models.Message
	content      string
	finishReason string
	usage        providers.Usage
	iterations   int
	truncated    bool
	warning      error
	holdsScreen  bool
}

func (l *ExecutionLoop) newRun(in RunInput, updates chan<- Update) *run {
	agent := in.Agent.Clone()
	session := &models.ExecutionSession{
		ID:             uuid.NewString(),
		AgentID:        agent.ID,
		ConversationID: in.ConversationID,
		StartedAt:      time.Now(),
		Status:         models.StatusIdle,
	}
	return &run{
		loop:    l,
		in:      in,
		agent:   agent,
		session: session,
		updates: updates,
		logger:  l.logger.With("agent_id", agent.ID, "session_id", session.ID, "conversation_id", in.ConversationID),
		history: slices.Clone(in.Messages),
	}
}

func (r *run) execute(ctx context.Context) error {
	maxIter := r.loop.maxIterations(r.in.AgentMode)
	for {
		if err := ctx.Err(); err != nil {
			return r.cancel(ctx, err)
		}
		if r.iterations >= maxIter {
			r.truncate(ctx, maxIter)
			return nil
		}
		r.iterations++
		r.session.Status = models.StatusThinking
		r.session.AddStep(models.ExecutionStep{Iteration: r.iterations, Kind: models.StepThinking})

		resp, err := r.callModel(ctx)
		if resp != nil {
			r.absorbUsage(resp.Usage)
			if err != nil && resp.Content != "" {
				r.content = resp.Content
			}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.cancel(ctx, ctxErr)
			}
			return r.fail(ctx, &LoopError{Phase: PhaseModel, Iteration: r.iterations, Cause: err})
		}

		calls := ensureCallIDs(resp.ToolCalls)
		r.finishReason = resp.FinishReason
		r.append(models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: calls,
			AgentID:   r.agent.ID,
			CreatedAt: time.Now(),
		})
		if resp.Content != "" {
			r.content = resp.Content
			r.emit(ctx, Update{Kind: UpdateContent, Iteration: r.iterations, Content: resp.Content})
		}
		if len(calls) == 0 {
			r.complete(ctx)
			return nil
		}

		touched, err := r.executeBatch(ctx, calls)
		if err != nil {
			return err
		}
		if touched && r.in.AgentMode && r.in.DesktopControl {
			if err := r.refreshScreen(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *run) request() *providers.Request {
	cfg := r.agent.Configuration
	system := r.in.SystemPrompt
	if system == "" {
		system = cfg.SystemPrompt
	}
	return &providers.Request{
		Model:        cfg.Model,
		Messages:     r.history,
		SystemPrompt: system,
		Tools:        r.in.Tools,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	}
}

// callModel performs one model turn. On failure the returned response, when
// non-nil, holds the content streamed before the error.
func (r *run) callModel(ctx context.Context) (*providers.Response, error) {
	provider := r.agent.Configuration.Provider
	req := r.request()
	if !r.loop.config.Stream {
		return r.loop.client.Complete(ctx, provider, req)
	}

	events, err := r.loop.client.Stream(ctx, provider, req)
	if err != nil {
		return nil, err
	}
	var partial strings.Builder
	for ev := range events {
		if ev.Chunk != nil {
			if delta := ev.Chunk.ContentDelta; delta != "" {
				partial.WriteString(delta)
				r.emit(ctx, Update{Kind: UpdatePartial, Iteration: r.iterations, Content: delta})
			}
			continue
		}
		for range events {
		}
		resp := ev.Response
		if resp == nil {
			resp = &providers.Response{Content: partial.String()}
		}
		return resp, ev.Err
	}

	resp := &providers.Response{Content: partial.String()}
	if err := ctx.Err(); err != nil {
		return resp, err
	}
	return resp, errors.New("stream closed without a final event")
}

// executeBatch runs calls one at a time in model order. Every call gets a
// tool message; failures are fed back, never returned. It reports whether a
// desktop-control tool was called. The only error is cancellation.
func (r *run) executeBatch(ctx context.Context, calls []models.ToolCall) (bool, error) {
	r.session.Status = models.StatusToolPending
	touched := false
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			r.skip(calls[i:])
			return touched, r.cancel(ctx, err)
		}

		r.session.Status = models.StatusExecuting
		r.emit(ctx, Update{Kind: UpdateToolCall, Iteration: r.iterations, ToolCall: &call})
		r.session.AddStep(models.ExecutionStep{Iteration: r.iterations, Kind: models.StepToolCall, ToolName: call.Name})

		if tools.IsDesktopControl(call.Name) {
			touched = true
			if r.in.DesktopControl {
				r.acquireScreen()
			}
		}

		out := r.executeTool(ctx, call)
		r.append(out.message)
		msg := out.message
		r.emit(ctx, Update{Kind: UpdateToolResult, Iteration: r.iterations, ToolCall: &call, Message: &msg})
		r.session.AddStep(models.ExecutionStep{
			Iteration: r.iterations,
			Kind:      models.StepToolResult,
			ToolName:  call.Name,
			Content:   out.message.Content,
			Success:   out.success,
		})

		if err := ctx.Err(); err != nil {
			r.skip(calls[i+1:])
			return touched, r.cancel(ctx, err)
		}
	}
	return touched, nil
}

func (r *run) skip(calls []models.ToolCall) {
	for _, call := range calls {
		r.append(r.skippedToolMessage(call))
	}
}

// refreshScreen waits for the screen to settle, captures it and appends the
// image as a user message. A failed capture is logged and the run goes on.
func (r *run) refreshScreen(ctx context.Context) error {
	capturer := r.loop.config.Capturer
	if capturer == nil {
		return nil
	}
	if delay := r.loop.config.ScreenSettleDelay; delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r.cancel(ctx, ctx.Err())
		case <-timer.C:
		}
	}

	shot, err := media.Capture(ctx, capturer, r.loop.config.ImageOptions)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return r.cancel(ctx, ctxErr)
	}
	if err != nil {
		r.logger.Warn("screen refresh failed", "error", err)
		return nil
	}

	msg := models.Message{
		ID:            uuid.NewString(),
		Role:          models.RoleUser,
		Content:       "Screenshot of the screen after the previous actions.",
		ImageData:     shot.Data,
		ImageMimeType: shot.MIMEType,
		CreatedAt:     time.Now(),
	}
	r.append(msg)
	r.emit(ctx, Update{Kind: UpdateScreenRefresh, Iteration: r.iterations, Message: &msg})
	r.session.AddStep(models.ExecutionStep{
		Iteration: r.iterations,
		Kind:      models.StepScreenRefresh,
		Content:   fmt.Sprintf("%dx%d %s", shot.Width, shot.Height, shot.MIMEType),
		Success:   true,
	})
	return nil
}

func (r *run) append(msg models.Message) {
	r.history = append(r.history, msg)
	r.appended = append(r.appended, msg)
}

func (r *run) absorbUsage(u *providers.Usage) {
	if u == nil {
		return
	}
	r.usage.InputTokens += u.InputTokens
	r.usage.OutputTokens += u.OutputTokens
}

func (r *run) acquireScreen() {
	if r.holdsScreen || r.loop.arbiter == nil {
		return
	}
	r.holdsScreen = true
	r.loop.arbiter.Acquire(r.session.ID)
}

func (r *run) releaseScreen() {
	if !r.holdsScreen || r.loop.arbiter == nil {
		return
	}
	r.holdsScreen = false
	r.loop.arbiter.Release(r.session.ID)
}

func (r *run) complete(ctx context.Context) {
	r.finish(ctx, models.StatusCompleted, fmt.Sprintf("Completed after %d iteration(s).", r.iterations))
}

func (r *run) truncate(ctx context.Context, limit int) {
	r.truncated = true
	r.warning = ErrMaxIterationsReached
	r.finish(ctx, models.StatusCompleted,
		fmt.Sprintf("Stopped after reaching the limit of %d iterations; the answer may be incomplete.", limit))
}

func (r *run) fail(ctx context.Context, err error) error {
	r.finish(ctx, models.StatusFailed, "Model request failed: "+errorDetail(err))
	return err
}

func (r *run) cancel(ctx context.Context, cause error) error {
	r.finish(ctx, models.StatusCancelled, "Cancelled before a final answer.")
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

func errorDetail(err error) string {
	if loopErr, ok := GetLoopError(err); ok && loopErr.Cause != nil {
		return loopErr.Cause.Error()
	}
	return err.Error()
}

func (r *run) finish(ctx context.Context, status models.SessionStatus, explanation string) {
	r.session.Status = status
	r.session.Explanation = explanation
	r.session.Result = r.content
	r.session.FinishedAt = time.Now()

	r.loop.metrics.RecordRun(string(status), r.iterations)
	r.loop.config.Audit.LogRunFinished(context.WithoutCancel(ctx), r.session, r.iterations)

	level := slog.LevelInfo
	if status == models.StatusFailed {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "run finished",
		"status", status,
		"iterations", r.iterations,
		"explanation", explanation,
	)

	u := Update{
		Kind:        UpdateTerminal,
		Iteration:   r.iterations,
		Content:     r.content,
		Status:      status,
		Explanation: explanation,
	}
	if ctx.Err() == nil {
		r.emit(ctx, u)
		return
	}
	if r.updates != nil {
		grace := time.NewTimer(terminalSendGrace)
		defer grace.Stop()
		select {
		case r.updates <- u:
		case <-grace.C:
			r.logger.Warn("terminal update dropped", "status", status)
		}
	}
}

// emit sends u unless ctx ends first.
func (r *run) emit(ctx context.Context, u Update) {
	if r.updates == nil {
		return
	}
	select {
	case r.updates <- u:
	case <-ctx.Done():
	}
}

func (r *run) result() *RunResult {
	return &RunResult{
		Session:      r.session.Clone(),
		Messages:     slices.Clone(r.appended),
		Content:      r.content,
		FinishReason: r.finishReason,
		Usage:        r.usage,
		Iterations:   r.iterations,
		Truncated:    r.truncated,
		Warning:      r.warning,
	}
}
