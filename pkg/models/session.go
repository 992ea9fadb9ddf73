package models

import (
	"slices"
	"time"
)

// SessionStatus is the state of one execution loop run.
type SessionStatus string

const (
	StatusIdle        SessionStatus = "idle"
	StatusThinking    SessionStatus = "thinking"
	StatusToolPending SessionStatus = "tool_pending"
	StatusExecuting   SessionStatus = "executing"
	StatusCompleted   SessionStatus = "completed"
	StatusFailed      SessionStatus = "failed"
	StatusCancelled   SessionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepKind classifies an execution step.
type StepKind string

const (
	StepThinking      StepKind = "thinking"
	StepToolCall      StepKind = "tool_call"
	StepToolResult    StepKind = "tool_result"
	StepScreenRefresh StepKind = "screen_refresh"
)

// ExecutionStep is one entry in a run's bookkeeping.
type ExecutionStep struct {
	Index     int       `json:"index"`
	Iteration int       `json:"iteration"`
	Kind      StepKind  `json:"kind"`
	ToolName  string    `json:"tool_name,omitempty"`
	Content   string    `json:"content,omitempty"`
	Success   bool      `json:"success"`
	At        time.Time `json:"at"`
}

// ExecutionSession records a single loop run, distinct from the Conversation
// it operates on.
type ExecutionSession struct {
	ID             string          `json:"id"`
	AgentID        string          `json:"agent_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at,omitempty"`
	Steps          []ExecutionStep `json:"steps"`
	Status         SessionStatus   `json:"status"`
	Result         string          `json:"result,omitempty"`
	// Explanation is the human readable reason for the terminal state.
	Explanation string `json:"explanation,omitempty"`
}

// AddStep appends a step and assigns its index.
func (s *ExecutionSession) AddStep(step ExecutionStep) {
	step.Index = len(s.Steps)
	if step.At.IsZero() {
		step.At = time.Now()
	}
	s.Steps = append(s.Steps, step)
}

// Clone returns a copy with an independent step slice.
func (s *ExecutionSession) Clone() *ExecutionSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Steps = slices.Clone(s.Steps)
	return &out
}
