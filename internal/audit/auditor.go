package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Auditor is the append-only log of tool call records. It is safe for
// concurrent use by many runs.
type Auditor struct {
	mu      sync.Mutex
	records []models.ToolCallRecord
	logger  *Logger
}

// NewAuditor returns an empty auditor. logger may be nil.
func NewAuditor(logger *Logger) *Auditor {
	return &Auditor{logger: logger}
}

// Record appends a copy of rec, filling in ID and Timestamp when unset, and
// emits a tool.completion event.
func (a *Auditor) Record(ctx context.Context, rec models.ToolCallRecord) models.ToolCallRecord {
	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	a.mu.Lock()
	a.records = append(a.records, rec)
	a.mu.Unlock()

	a.logger.LogToolCompletion(ctx, rec)
	return rec.Clone()
}

// Records returns a snapshot of every record in append order.
func (a *Auditor) Records() []models.ToolCallRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ToolCallRecord, len(a.records))
	for i, r := range a.records {
		out[i] = r.Clone()
	}
	return out
}

// ForAgent returns the records produced by one agent.
func (a *Auditor) ForAgent(agentID string) []models.ToolCallRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.ToolCallRecord
	for _, r := range a.records {
		if r.AgentID == agentID {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Len returns the number of records.
func (a *Auditor) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}
