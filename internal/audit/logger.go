package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Logger writes audit events asynchronously through slog.
//
//	logger, err := audit.NewLogger(audit.Config{Enabled: true, Output: "stderr"})
//	defer logger.Close()
//	logger.LogAgentHandoff(ctx, "alice", "bob", "conv-1", 1)
//
// A nil or disabled Logger discards events.
type Logger struct {
	config     Config
	closer     io.Closer
	slogger    *slog.Logger
	buffer     chan *Event
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	eventTypes map[EventType]bool
	dropped    atomic.Uint64
}

// NewLogger creates an audit logger and starts its writer goroutine.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}
	defaults := DefaultConfig()
	if config.Level == "" {
		config.Level = defaults.Level
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.MaxFieldSize <= 0 {
		config.MaxFieldSize = defaults.MaxFieldSize
	}

	output := config.Writer
	var closer io.Closer
	if output == nil {
		switch {
		case config.Output == "stdout":
			output = os.Stdout
		case config.Output == "stderr" || config.Output == "":
			output = os.Stderr
		case strings.HasPrefix(config.Output, "file:"):
			f, err := os.OpenFile(strings.TrimPrefix(config.Output, "file:"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open audit log file: %w", err)
			}
			output, closer = f, f
		default:
			return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
		}
	}

	eventTypes := make(map[EventType]bool, len(config.EventTypes))
	for _, et := range config.EventTypes {
		eventTypes[et] = true
	}

	opts := &slog.HandlerOptions{Level: slogLevel(config.Level)}
	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	l := &Logger{
		config:     config,
		closer:     closer,
		slogger:    slog.New(handler).With("component", "audit"),
		buffer:     make(chan *Event, config.BufferSize),
		done:       make(chan struct{}),
		eventTypes: eventTypes,
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

func (l *Logger) enabled() bool {
	return l != nil && l.config.Enabled && l.buffer != nil
}

// Close drains pending events and releases the output.
func (l *Logger) Close() error {
	if !l.enabled() {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		if l.closer != nil {
			err = l.closer.Close()
		}
	})
	return err
}

// Dropped reports how many events were discarded because the buffer was full.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Log queues an event. It never blocks.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.enabled() || event == nil {
		return
	}
	if len(l.eventTypes) > 0 && !l.eventTypes[event.Type] {
		return
	}
	if levelRank[event.Level] < levelRank[l.config.Level] {
		return
	}
	select {
	case <-l.done:
		return
	default:
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.TraceID == "" {
		event.TraceID = observability.TraceID(ctx)
	}
	if event.SpanID == "" {
		event.SpanID = observability.SpanID(ctx)
	}

	select {
	case l.buffer <- event:
	default:
		l.dropped.Add(1)
	}
}

// LogToolCompletion emits a tool.completion event for a finished call.
func (l *Logger) LogToolCompletion(ctx context.Context, rec models.ToolCallRecord) {
	if !l.enabled() {
		return
	}
	level := LevelInfo
	if !rec.Success {
		level = LevelWarn
	}
	details := map[string]any{"success": rec.Success}

	if len(rec.Arguments) > 0 {
		input, _ := json.Marshal(rec.Arguments)
		if l.config.IncludeToolInput {
			details["input"] = l.clip(string(input))
		} else {
			details["input_hash"] = hashString(string(input))
		}
	}
	if l.config.IncludeToolOutput {
		details["output"] = l.clip(rec.Result)
	} else {
		details["output_size"] = len(rec.Result)
	}

	l.Log(ctx, &Event{
		Type:       EventToolCompletion,
		Level:      level,
		AgentID:    rec.AgentID,
		SessionID:  rec.SessionID,
		ToolName:   rec.ToolName,
		ToolCallID: rec.ToolCallID,
		Action:     "tool_completed",
		Details:    details,
		Duration:   rec.Duration,
		Timestamp:  rec.Timestamp,
	})
}

// LogAgentHandoff emits an agent.handoff event when one agent's reply
// delegates to a peer.
func (l *Logger) LogAgentHandoff(ctx context.Context, fromAgent, toAgent, conversationID string, depth int) {
	l.Log(ctx, &Event{
		Type:           EventAgentHandoff,
		Level:          LevelInfo,
		AgentID:        fromAgent,
		ConversationID: conversationID,
		Action:         "agent_handoff",
		Details: map[string]any{
			"from_agent_id": fromAgent,
			"to_agent_id":   toAgent,
			"handoff_depth": depth,
		},
	})
}

// LogRunFinished emits the terminal state of an execution session.
func (l *Logger) LogRunFinished(ctx context.Context, session *models.ExecutionSession, iterations int) {
	if session == nil {
		return
	}
	level := LevelInfo
	eventType := EventRunFinished
	if session.Status == models.StatusFailed {
		level = LevelError
		eventType = EventAgentError
	}
	l.Log(ctx, &Event{
		Type:           eventType,
		Level:          level,
		AgentID:        session.AgentID,
		ConversationID: session.ConversationID,
		SessionID:      session.ID,
		Action:         "run_" + string(session.Status),
		Duration:       session.FinishedAt.Sub(session.StartedAt),
		Details: map[string]any{
			"iterations":  iterations,
			"explanation": session.Explanation,
		},
	})
}

func (l *Logger) clip(s string) string {
	if len(s) > l.config.MaxFieldSize {
		return s[:l.config.MaxFieldSize] + "...(truncated)"
	}
	return s
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-l.done:
			for {
				select {
				case event := <-l.buffer:
					l.writeEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}
	optional := []struct{ key, value string }{
		{"agent_id", event.AgentID},
		{"conversation_id", event.ConversationID},
		{"session_id", event.SessionID},
		{"tool_name", event.ToolName},
		{"tool_call_id", event.ToolCallID},
		{"trace_id", event.TraceID},
		{"span_id", event.SpanID},
		{"error", event.Error},
	}
	for _, kv := range optional {
		if kv.value != "" {
			attrs = append(attrs, kv.key, kv.value)
		}
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// hashString returns the first 16 hex characters of the SHA-256 of s.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
