package sessions

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/haasonsaas/agentcore/pkg/models"
)

func setupMockDB(t *testing.T, dialect Dialect) (sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, NewSQLStore(db, dialect)
}

func TestDialect_Rebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		query   string
		want    string
	}{
		{DialectSQLite, "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = ? AND b = ?"},
		{DialectPostgres, "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = $1 AND b = $2"},
		{DialectPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		if got := tt.dialect.rebind(tt.query); got != tt.want {
			t.Errorf("%s rebind(%q) = %q, want %q", tt.dialect, tt.query, got, tt.want)
		}
	}
}

func TestSQLStore_CreateConversation(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "successful create",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT COUNT").WithArgs("c1").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectExec("INSERT INTO conversations").
					WithArgs("c1", "pair", `["a","b"]`, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO messages").
					WithArgs("c1", int64(0), "m1", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO messages").
					WithArgs("c1", int64(1), "m2", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "duplicate id rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT COUNT").WithArgs("c1").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
				mock.ExpectRollback()
			},
			wantErr: ErrAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, store := setupMockDB(t, DialectSQLite)
			tt.setupMock(mock)

			conv := &models.Conversation{
				ID:             "c1",
				Title:          "pair",
				ParticipantIDs: []string{"a", "b"},
				Messages: []models.Message{
					{ID: "m1", Role: models.RoleUser, Content: "hi"},
					{ID: "m2", Role: models.RoleAssistant, Content: "hello"},
				},
			}
			err := store.CreateConversation(context.Background(), conv)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSQLStore_GetConversation(t *testing.T) {
	mock, store := setupMockDB(t, DialectSQLite)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("SELECT id, title, participant_ids").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "participant_ids", "created_at", "updated_at"}).
			AddRow("c1", "pair", `["a","b"]`, created.UnixNano(), created.UnixNano()))
	mock.ExpectQuery("SELECT body FROM messages").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).
			AddRow(`{"id":"m1","role":"user","content":"first"}`).
			AddRow(`{"id":"m2","role":"tool","content":"ok","tool_call_id":"call_1","tool_name":"echo"}`))

	conv, err := store.GetConversation(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if !conv.IsGroup() || !conv.CreatedAt.Equal(created) {
		t.Fatalf("unexpected conversation %+v", conv)
	}
	if len(conv.Messages) != 2 || conv.Messages[0].Content != "first" || conv.Messages[1].ToolCallID != "call_1" {
		t.Fatalf("unexpected messages %+v", conv.Messages)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_GetConversationNotFound(t *testing.T) {
	mock, store := setupMockDB(t, DialectSQLite)
	mock.ExpectQuery("SELECT id, title, participant_ids").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "participant_ids", "created_at", "updated_at"}))

	_, err := store.GetConversation(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_AppendMessagesPostgres(t *testing.T) {
	mock, store := setupMockDB(t, DialectPostgres)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE conversations SET updated_at = $1 WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(seq), -1) FROM messages WHERE conversation_id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages (conversation_id, seq, id, body) VALUES ($1, $2, $3, $4)")).
		WithArgs("c1", int64(2), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("c1", int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.AppendMessages(context.Background(), "c1",
		models.Message{Role: models.RoleUser, Content: "next"},
		models.Message{Role: models.RoleAssistant, Content: "after"},
	)
	if err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_AppendMessagesMissingConversation(t *testing.T) {
	mock, store := setupMockDB(t, DialectSQLite)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.AppendMessages(context.Background(), "missing", models.Message{Role: models.RoleUser})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_Sessions(t *testing.T) {
	mock, store := setupMockDB(t, DialectSQLite)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO execution_sessions").
		WithArgs("s1", "c1", "a", "completed", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	session := &models.ExecutionSession{ID: "s1", AgentID: "a", ConversationID: "c1", Status: models.StatusCompleted, Result: "done"}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	mock.ExpectQuery("SELECT body FROM execution_sessions WHERE id").WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(`{"id":"s1","agent_id":"a","status":"completed","result":"done","steps":[]}`))
	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Result != "done" || got.Status != models.StatusCompleted {
		t.Fatalf("unexpected session %+v", got)
	}

	mock.ExpectQuery("SELECT body FROM execution_sessions WHERE id").WithArgs("gone").WillReturnError(sql.ErrNoRows)
	if _, err := store.GetSession(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	mock.ExpectQuery("SELECT body FROM execution_sessions WHERE conversation_id").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).
			AddRow(`{"id":"s1","agent_id":"a","status":"completed"}`).
			AddRow(`{"id":"s2","agent_id":"b","status":"failed"}`))
	list, err := store.ListSessions(ctx, "c1")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(list) != 2 || list[1].Status != models.StatusFailed {
		t.Fatalf("unexpected sessions %+v", list)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_DeleteConversation(t *testing.T) {
	mock, store := setupMockDB(t, DialectSQLite)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM conversations").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM messages").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM execution_sessions").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	if err := store.DeleteConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM conversations").WithArgs("c2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	if err := store.DeleteConversation(context.Background(), "c2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOpenSQLStore_SQLite(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLStore(ctx, DialectSQLite, t.TempDir()+"/sessions.db", nil)
	if err != nil {
		t.Fatalf("OpenSQLStore() error = %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}
