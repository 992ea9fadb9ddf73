// Package audit records tool invocations and agent hand-offs. The Auditor
// keeps an append-only, in-memory list of tool call records; the Logger
// emits every auditable event as a structured log line.
package audit

import (
	"io"
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	EventToolCompletion EventType = "tool.completion"
	EventAgentHandoff   EventType = "agent.handoff"
	EventRunFinished    EventType = "agent.run"
	EventAgentError     EventType = "agent.error"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Event is a single audit log entry.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Level          Level          `json:"level"`
	Timestamp      time.Time      `json:"timestamp"`
	AgentID        string         `json:"agent_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	ToolName       string         `json:"tool_name,omitempty"`
	ToolCallID     string         `json:"tool_call_id,omitempty"`
	Action         string         `json:"action"`
	Details        map[string]any `json:"details,omitempty"`
	Duration       time.Duration  `json:"duration,omitempty"`
	Error          string         `json:"error,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	SpanID         string         `json:"span_id,omitempty"`
}

// OutputFormat specifies the audit log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	Enabled bool         `json:"enabled" yaml:"enabled"`
	Level   Level        `json:"level" yaml:"level"`
	Format  OutputFormat `json:"format" yaml:"format"`

	// Output is "stdout", "stderr" or "file:/path/to/audit.log".
	Output string `json:"output" yaml:"output"`

	// Writer overrides Output when set.
	Writer io.Writer `json:"-" yaml:"-"`

	// IncludeToolInput logs tool arguments verbatim; otherwise only a hash.
	IncludeToolInput bool `json:"include_tool_input" yaml:"include_tool_input"`

	// IncludeToolOutput logs tool results verbatim; otherwise only a size.
	IncludeToolOutput bool `json:"include_tool_output" yaml:"include_tool_output"`

	MaxFieldSize int `json:"max_field_size" yaml:"max_field_size"`

	// EventTypes filters which event types to log (empty = all).
	EventTypes []EventType `json:"event_types" yaml:"event_types"`

	// BufferSize bounds pending events. Events arriving while the buffer is
	// full are dropped and counted.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
}

// DefaultConfig returns a disabled audit configuration with sane limits.
func DefaultConfig() Config {
	return Config{
		Level:        LevelInfo,
		Format:       FormatJSON,
		Output:       "stderr",
		MaxFieldSize: 1024,
		BufferSize:   1000,
	}
}
