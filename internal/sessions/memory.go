package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	sessions      map[string]*models.ExecutionSession
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*models.Conversation{},
		sessions:      map[string]*models.ExecutionSession{},
	}
}

func (m *MemoryStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareConversation(conv)
	if _, ok := m.conversations[conv.ID]; ok {
		return fmt.Errorf("conversation %s: %w", conv.ID, ErrAlreadyExists)
	}
	m.conversations[conv.ID] = conv.Clone()
	return nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return conv.Clone(), nil
}

func (m *MemoryStore) ListConversations(ctx context.Context, opts ListOptions) ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		if matchesParticipant(conv, opts.ParticipantID) {
			out = append(out, conv.Clone())
		}
	}
	sortConversations(out)
	return paginate(out, opts), nil
}

func (m *MemoryStore) AppendMessages(ctx context.Context, conversationID string, msgs ...models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	conv.Append(prepareMessages(msgs)...)
	return nil
}

func (m *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	delete(m.conversations, id)
	for sid, s := range m.sessions {
		if s.ConversationID == id {
			delete(m.sessions, sid)
		}
	}
	return nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, session *models.ExecutionSession) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.ExecutionSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, conversationID string) ([]*models.ExecutionSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*models.ExecutionSession{}
	for _, s := range m.sessions {
		if conversationID == "" || s.ConversationID == conversationID {
			out = append(out, s.Clone())
		}
	}
	sortSessions(out)
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// prepareConversation fills generated fields and reflects them back to the caller.
func prepareConversation(conv *models.Conversation) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	conv.Messages = prepareMessages(conv.Messages)
}

// prepareMessages returns a copy with IDs and timestamps filled in.
func prepareMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	now := time.Now()
	for i, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		out[i] = msg
	}
	return out
}

func sortConversations(convs []*models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID < convs[j].ID
	})
}

func sortSessions(sessions []*models.ExecutionSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}
