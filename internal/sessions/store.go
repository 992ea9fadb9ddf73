// Package sessions persists conversations and execution sessions.
package sessions

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

var (
	// ErrNotFound is returned when a conversation or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a conversation whose ID is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// ConversationStore is the transcript side of persistence. Delegation reads
// the freshest history through it before every agent turn.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, opts ListOptions) ([]*models.Conversation, error)
	// AppendMessages adds messages at the end of the transcript in the given order.
	AppendMessages(ctx context.Context, conversationID string, msgs ...models.Message) error
	DeleteConversation(ctx context.Context, id string) error
}

// SessionStore keeps the bookkeeping of finished and running loop runs.
type SessionStore interface {
	SaveSession(ctx context.Context, session *models.ExecutionSession) error
	GetSession(ctx context.Context, id string) (*models.ExecutionSession, error)
	// ListSessions returns sessions for a conversation, oldest first. An empty
	// conversation ID lists every session.
	ListSessions(ctx context.Context, conversationID string) ([]*models.ExecutionSession, error)
}

// Store is the full persistence interface.
type Store interface {
	ConversationStore
	SessionStore
	Close() error
}

// ListOptions configures conversation listing.
type ListOptions struct {
	// ParticipantID restricts the listing to conversations the agent takes part in.
	ParticipantID string
	Limit         int
	Offset        int
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and configures a store backend.
type Config struct {
	Backend string `yaml:"backend" json:"backend" jsonschema:"enum=memory,enum=file,enum=sqlite,enum=postgres"`
	// Path is the directory for the file backend or the database file for sqlite.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// Open builds the store named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.Path)
	case BackendSQLite:
		return OpenSQLStore(ctx, DialectSQLite, cfg.Path, nil)
	case BackendPostgres:
		return OpenSQLStore(ctx, DialectPostgres, cfg.DSN, nil)
	default:
		return nil, errors.New("unknown sessions backend: " + cfg.Backend)
	}
}

// SQLTarget reports the dialect and DSN of a SQL backend. ok is false for
// the memory and file backends.
func (c Config) SQLTarget() (dialect Dialect, dsn string, ok bool) {
	switch strings.ToLower(c.Backend) {
	case BackendSQLite:
		return DialectSQLite, c.Path, true
	case BackendPostgres:
		return DialectPostgres, c.DSN, true
	default:
		return "", "", false
	}
}

func matchesParticipant(conv *models.Conversation, id string) bool {
	return id == "" || slices.Contains(conv.ParticipantIDs, id)
}

func paginate[T any](items []T, opts ListOptions) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
