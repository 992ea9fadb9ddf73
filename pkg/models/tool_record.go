package models

import (
	"maps"
	"time"
)

// RiskLevel is the declared sensitivity tier of a tool.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ToolCallRecord is an immutable audit row for one tool invocation.
type ToolCallRecord struct {
	ID         string            `json:"id"`
	AgentID    string            `json:"agent_id"`
	SessionID  string            `json:"session_id,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name"`
	Arguments  map[string]string `json:"arguments,omitempty"`
	Result     string            `json:"result"`
	Success    bool              `json:"success"`
	Duration   time.Duration     `json:"duration,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Clone copies the argument map so stored records cannot be mutated through
// a caller's reference.
func (r ToolCallRecord) Clone() ToolCallRecord {
	r.Arguments = maps.Clone(r.Arguments)
	return r
}
