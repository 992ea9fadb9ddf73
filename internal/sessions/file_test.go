package sessions

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	exerciseStore(t, store)
}

func TestFileStore_ReopenPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	conv := &models.Conversation{ID: "c1", ParticipantIDs: []string{"a"}}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		if err := store.AppendMessages(ctx, "c1", models.Message{Role: models.RoleUser, Content: c}); err != nil {
			t.Fatalf("AppendMessages() error = %v", err)
		}
	}
	if err := store.SaveSession(ctx, &models.ExecutionSession{ID: "s1", AgentID: "a", ConversationID: "c1", Status: models.StatusCompleted}); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	loaded, err := reopened.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	for i, c := range contents {
		if loaded.Messages[i].Content != c {
			t.Fatalf("message %d = %q, want %q", i, loaded.Messages[i].Content, c)
		}
	}
	if _, err := reopened.GetSession(ctx, "s1"); err != nil {
		t.Fatalf("GetSession() after reopen error = %v", err)
	}

	// The document is keyed by conversation ID and carries the derived flag.
	data, err := os.ReadFile(filepath.Join(dir, conversationsFile))
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if _, ok := doc["c1"]; !ok {
		t.Fatalf("document not keyed by id: %s", data)
	}
	if doc["c1"]["is_group"] != false {
		t.Errorf("is_group = %v, want false", doc["c1"]["is_group"])
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestFileStore_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, conversationsFile), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(dir); err == nil {
		t.Fatal("expected error for corrupt document")
	}
}
