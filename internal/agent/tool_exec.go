package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// ToolInvoker runs one tool call. *tools.Catalog implements it.
type ToolInvoker interface {
	Invoke(ctx context.Context, call models.ToolCall) (string, error)
}

// Recorder receives a record for every finished tool call. *audit.Auditor
// implements it.
type Recorder interface {
	Record(ctx context.Context, rec models.ToolCallRecord) models.ToolCallRecord
}

// toolOutcome is the result of one tool call as fed back to the model.
type toolOutcome struct {
	message  models.Message
	success  bool
	duration time.Duration
}

// executeTool invokes call and converts any failure into a tool message.
// Tool failures never abort the run.
func (r *run) executeTool(ctx context.Context, call models.ToolCall) toolOutcome {
	ctx, span := r.loop.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	start := time.Now()
	result, err := r.loop.tools.Invoke(ctx, call)
	duration := time.Since(start)

	out := toolOutcome{success: err == nil, duration: duration}
	content := result
	if err != nil {
		r.loop.tracer.RecordError(span, err)
		content = toolErrorMessage(call.Name, err)
		r.logger.Warn("tool call failed", "tool", call.Name, "tool_call_id", call.ID, "error", err)
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	r.loop.metrics.RecordToolExecution(call.Name, status, duration.Seconds())

	if r.loop.recorder != nil {
		r.loop.recorder.Record(ctx, models.ToolCallRecord{
			AgentID:    r.agent.ID,
			SessionID:  r.session.ID,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Arguments:  call.Arguments,
			Result:     content,
			Success:    err == nil,
			Duration:   duration,
			Timestamp:  start,
		})
	}

	out.message = models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ToolFailed: err != nil,
		AgentID:    r.agent.ID,
		CreatedAt:  time.Now(),
	}
	return out
}

// skippedToolMessage answers a call that was never run because the run was
// cancelled, keeping every call paired with a result.
func (r *run) skippedToolMessage(call models.ToolCall) models.Message {
	return models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		Content:    "Skipped: the run was cancelled before this tool call executed.",
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ToolFailed: true,
		AgentID:    r.agent.ID,
		CreatedAt:  time.Now(),
	}
}

func toolErrorMessage(name string, err error) string {
	return tools.AsToolError(name, err).Message()
}

// ensureCallIDs gives every call a unique ID so results can be paired.
func ensureCallIDs(calls []models.ToolCall) []models.ToolCall {
	seen := make(map[string]bool, len(calls))
	out := make([]models.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" || seen[call.ID] {
			call.ID = "call_" + uuid.NewString()
		}
		seen[call.ID] = true
		out[i] = call
	}
	return out
}
