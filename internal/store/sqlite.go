package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DefaultActivityLimit bounds ListActivity when no limit is given.
const DefaultActivityLimit = 50

// SQLiteStore implements the Store interface using a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dsn and runs any
// pending schema migrations. ":memory:" keeps data for the lifetime of the
// store only.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if isMemory(dsn) {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// RecordActivity inserts a tool invocation. Missing ids and timestamps are
// filled in.
func (s *SQLiteStore) RecordActivity(ctx context.Context, a Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Args == "" {
		a.Args = "{}"
	}
	a.CreatedAt = a.CreatedAt.UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO activity (
			id, session_id, tool, args, outcome, error, duration_ms, created_at
		) VALUES (
			:id, :session_id, :tool, :args, :outcome, :error, :duration_ms, :created_at
		)`, a)
	if err != nil {
		return fmt.Errorf("recording activity for %s: %w", a.Tool, err)
	}
	return nil
}

// ListActivity returns the most recent invocations for a session, newest
// first.
func (s *SQLiteStore) ListActivity(
	ctx context.Context, sessionID string, limit int,
) ([]Activity, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}

	var out []Activity
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, session_id, tool, args, outcome, error, duration_ms, created_at
		FROM activity
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return out, nil
}

// CreateScheduledDraft records a scheduled-send draft.
func (s *SQLiteStore) CreateScheduledDraft(
	ctx context.Context, d ScheduledDraft,
) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.CreatedAt = d.CreatedAt.UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO scheduled_drafts (
			id, session_id, recipient, subject, send_at, mailbox, draft_uid, created_at
		) VALUES (
			:id, :session_id, :recipient, :subject, :send_at, :mailbox, :draft_uid, :created_at
		)`, d)
	if err != nil {
		return fmt.Errorf("recording scheduled draft: %w", err)
	}
	return nil
}

// ListScheduledDrafts returns a session's scheduled drafts, oldest first.
func (s *SQLiteStore) ListScheduledDrafts(
	ctx context.Context, sessionID string,
) ([]ScheduledDraft, error) {
	var out []ScheduledDraft
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, session_id, recipient, subject, send_at, mailbox, draft_uid, created_at
		FROM scheduled_drafts
		WHERE session_id = ?
		ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing scheduled drafts: %w", err)
	}
	return out, nil
}
