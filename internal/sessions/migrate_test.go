package sessions

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].ID != "001_create_conversations" {
		t.Fatalf("expected first migration to be 001_create_conversations, got %q", migrations[0].ID)
	}
	for _, m := range migrations {
		if m.UpSQL == "" || m.DownSQL == "" {
			t.Errorf("migration %s is missing a direction", m.ID)
		}
	}
}

func TestMigrator_UpSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	migrator, err := NewMigrator(db, DialectPostgres)
	if err != nil {
		t.Fatalf("NewMigrator() error = %v", err)
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("001_create_conversations"))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS execution_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)")).
		WithArgs("002_create_execution_sessions", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := migrator.Up(context.Background(), 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if len(applied) != 1 || applied[0] != "002_create_execution_sessions" {
		t.Fatalf("applied = %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMigrator_Down(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	migrator, err := NewMigrator(db, DialectSQLite)
	if err != nil {
		t.Fatalf("NewMigrator() error = %v", err)
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, applied_at FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "applied_at"}).
			AddRow("001_create_conversations", int64(1)).
			AddRow("002_create_execution_sessions", int64(2)))
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE IF EXISTS execution_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schema_migrations WHERE id = ?")).
		WithArgs("002_create_execution_sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rolled, err := migrator.Down(context.Background(), 1)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if len(rolled) != 1 || rolled[0] != "002_create_execution_sessions" {
		t.Fatalf("rolled = %v", rolled)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
