package agent

import "github.com/haasonsaas/agentcore/pkg/models"

// UpdateKind tells consumers how to apply an Update.
type UpdateKind string

const (
	// UpdatePartial carries a streamed content delta.
	UpdatePartial UpdateKind = "partial"
	// UpdateContent carries the full text of an assistant turn.
	UpdateContent UpdateKind = "content"
	// UpdateToolCall announces a tool call about to run.
	UpdateToolCall UpdateKind = "tool_call"
	// UpdateToolResult carries the tool message appended for a call.
	UpdateToolResult UpdateKind = "tool_result"
	// UpdateScreenRefresh carries the injected screenshot message.
	UpdateScreenRefresh UpdateKind = "screen_refresh"
	// UpdateTerminal is the last update of a run. Its Explanation is never
	// transcript content.
	UpdateTerminal UpdateKind = "terminal"
)

// Update is one progress event from a run, delivered in order.
type Update struct {
	Kind        UpdateKind
	Iteration   int
	Content     string
	ToolCall    *models.ToolCall
	Message     *models.Message
	Status      models.SessionStatus
	Explanation string
}
