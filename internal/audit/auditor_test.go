package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestAuditor_RecordIsImmutable(t *testing.T) {
	a := NewAuditor(nil)
	args := map[string]string{"text": "hi"}
	stored := a.Record(context.Background(), models.ToolCallRecord{AgentID: "alice", ToolName: "echo", Arguments: args, Success: true})

	if stored.ID == "" || stored.Timestamp.IsZero() {
		t.Fatalf("ID and timestamp should be assigned: %+v", stored)
	}
	args["text"] = "changed"
	stored.Arguments["text"] = "changed too"

	records := a.Records()
	if len(records) != 1 || records[0].Arguments["text"] != "hi" {
		t.Fatalf("stored record was mutated: %+v", records)
	}
	records[0].Arguments["text"] = "via snapshot"
	if a.Records()[0].Arguments["text"] != "hi" {
		t.Fatal("snapshot aliases stored record")
	}
}

func TestAuditor_ForAgent(t *testing.T) {
	a := NewAuditor(nil)
	ctx := context.Background()
	a.Record(ctx, models.ToolCallRecord{AgentID: "alice", ToolName: "one"})
	a.Record(ctx, models.ToolCallRecord{AgentID: "bob", ToolName: "two"})
	a.Record(ctx, models.ToolCallRecord{AgentID: "alice", ToolName: "three"})

	got := a.ForAgent("alice")
	if len(got) != 2 || got[0].ToolName != "one" || got[1].ToolName != "three" {
		t.Fatalf("ForAgent(alice) = %+v", got)
	}
	if len(a.ForAgent("carol")) != 0 {
		t.Error("unknown agent should have no records")
	}
}

func TestAuditor_ConcurrentAppend(t *testing.T) {
	a := NewAuditor(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Record(context.Background(), models.ToolCallRecord{AgentID: fmt.Sprint(i % 3), ToolName: "echo"})
		}(i)
	}
	wg.Wait()
	if a.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", a.Len())
	}
}
