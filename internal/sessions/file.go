package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

const (
	conversationsFile = "conversations.json"
	sessionsFile      = "sessions.json"
)

// FileStore keeps each collection as one JSON document keyed by ID. Every
// mutation rewrites the affected document through a temp file and rename, so
// a crash leaves either the old or the new document on disk.
type FileStore struct {
	*MemoryStore

	dir string
	// mu serializes mutate-then-persist so documents are written in order.
	mu sync.Mutex
}

// NewFileStore opens or creates a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &FileStore{MemoryStore: NewMemoryStore(), dir: dir}
	if err := readDocument(filepath.Join(dir, conversationsFile), &s.conversations); err != nil {
		return nil, err
	}
	if err := readDocument(filepath.Join(dir, sessionsFile), &s.sessions); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.MemoryStore.CreateConversation(ctx, conv); err != nil {
		return err
	}
	return s.persistConversations()
}

func (s *FileStore) AppendMessages(ctx context.Context, conversationID string, msgs ...models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.MemoryStore.AppendMessages(ctx, conversationID, msgs...); err != nil {
		return err
	}
	return s.persistConversations()
}

func (s *FileStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.MemoryStore.DeleteConversation(ctx, id); err != nil {
		return err
	}
	if err := s.persistConversations(); err != nil {
		return err
	}
	return s.persistSessions()
}

func (s *FileStore) SaveSession(ctx context.Context, session *models.ExecutionSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.MemoryStore.SaveSession(ctx, session); err != nil {
		return err
	}
	return s.persistSessions()
}

func (s *FileStore) persistConversations() error {
	s.MemoryStore.mu.RLock()
	data, err := json.MarshalIndent(s.conversations, "", "  ")
	s.MemoryStore.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode conversations: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, conversationsFile), data, 0o600)
}

func (s *FileStore) persistSessions() error {
	s.MemoryStore.mu.RLock()
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	s.MemoryStore.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, sessionsFile), data, 0o600)
}

func readDocument[T any](path string, into *map[string]T) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	doc := map[string]T{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if doc != nil {
		*into = doc
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
