package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/pkg/models"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // pure Go sqlite driver
)

// Dialect selects the driver name and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// rebind rewrites ? placeholders to $n for postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPoolConfig returns default pool settings.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore implements Store on database/sql. Messages and sessions are kept
// as JSON documents; message order is an explicit sequence column.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database. The schema must already be migrated.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// OpenDB opens a database for dialect, applies the pool settings and checks
// connectivity. It does not migrate.
func OpenDB(ctx context.Context, dialect Dialect, dsn string, pool *PoolConfig) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if pool == nil {
		pool = DefaultPoolConfig()
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// sqlite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(pool.MaxOpenConns)
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// OpenSQLStore opens the database and applies pending migrations.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string, pool *PoolConfig) (*SQLStore, error) {
	db, err := OpenDB(ctx, dialect, dsn, pool)
	if err != nil {
		return nil, err
	}
	migrator, err := NewMigrator(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := migrator.Up(ctx, 0); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStore(db, dialect), nil
}

// DB exposes the underlying connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	prepareConversation(conv)
	participants, err := json.Marshal(conv.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM conversations WHERE id = ?`), conv.ID).Scan(&count); err != nil {
			return fmt.Errorf("failed to check conversation: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("conversation %s: %w", conv.ID, ErrAlreadyExists)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`
			INSERT INTO conversations (id, title, participant_ids, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`), conv.ID, conv.Title, string(participants), conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		return s.insertMessages(ctx, tx, conv.ID, 0, conv.Messages)
	})
}

func (s *SQLStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT id, title, participant_ids, created_at, updated_at
		FROM conversations WHERE id = ?
	`), id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv.Messages, err = s.loadMessages(ctx, id); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *SQLStore) ListConversations(ctx context.Context, opts ListOptions) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, participant_ids, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if matchesParticipant(conv, opts.ParticipantID) {
			convs = append(convs, conv)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	rows.Close()

	convs = paginate(convs, opts)
	for _, conv := range convs {
		if conv.Messages, err = s.loadMessages(ctx, conv.ID); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (s *SQLStore) AppendMessages(ctx context.Context, conversationID string, msgs ...models.Message) error {
	msgs = prepareMessages(msgs)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.dialect.rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`),
			time.Now().UnixNano(), conversationID)
		if err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}

		var last int64
		if err := tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT COALESCE(MAX(seq), -1) FROM messages WHERE conversation_id = ?`),
			conversationID).Scan(&last); err != nil {
			return fmt.Errorf("failed to read message sequence: %w", err)
		}
		return s.insertMessages(ctx, tx, conversationID, last+1, msgs)
	})
}

func (s *SQLStore) DeleteConversation(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM conversations WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM messages WHERE conversation_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM execution_sessions WHERE conversation_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete sessions: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) SaveSession(ctx context.Context, session *models.ExecutionSession) error {
	if session == nil {
		return errors.New("session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO execution_sessions (id, conversation_id, agent_id, status, started_at, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, body = excluded.body
	`), session.ID, session.ConversationID, session.AgentID, string(session.Status), session.StartedAt.UnixNano(), string(body))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*models.ExecutionSession, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT body FROM execution_sessions WHERE id = ?`), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session := &models.ExecutionSession{}
	if err := json.Unmarshal([]byte(body), session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return session, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, conversationID string) ([]*models.ExecutionSession, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if conversationID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT body FROM execution_sessions ORDER BY started_at, id`)
	} else {
		rows, err = s.db.QueryContext(ctx, s.dialect.rebind(`
			SELECT body FROM execution_sessions WHERE conversation_id = ? ORDER BY started_at, id
		`), conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []*models.ExecutionSession{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		session := &models.ExecutionSession{}
		if err := json.Unmarshal([]byte(body), session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

func (s *SQLStore) insertMessages(ctx context.Context, tx *sql.Tx, conversationID string, seq int64, msgs []models.Message) error {
	query := s.dialect.rebind(`INSERT INTO messages (conversation_id, seq, id, body) VALUES (?, ?, ?, ?)`)
	for i, msg := range msgs {
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, conversationID, seq+int64(i), msg.ID, string(body)); err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) loadMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT body FROM messages WHERE conversation_id = ? ORDER BY seq
	`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return msgs, nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv                 models.Conversation
		participants         string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&conv.ID, &conv.Title, &participants, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &conv.ParticipantIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}
	conv.CreatedAt = time.Unix(0, createdAt)
	conv.UpdatedAt = time.Unix(0, updatedAt)
	return &conv, nil
}
