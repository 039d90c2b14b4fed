package store

import (
	"context"
	"time"
)

// Outcome is the result class of a tool invocation.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// Activity is one recorded tool invocation.
type Activity struct {
	ID         string    `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	Tool       string    `db:"tool" json:"tool"`
	Args       string    `db:"args" json:"args"`
	Outcome    Outcome   `db:"outcome" json:"outcome"`
	Error      string    `db:"error" json:"error,omitempty"`
	DurationMS int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ScheduledDraft remembers a scheduled-send request saved as a draft.
type ScheduledDraft struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	To        string    `db:"recipient" json:"to"`
	Subject   string    `db:"subject" json:"subject"`
	SendAt    string    `db:"send_at" json:"send_at"`
	Mailbox   string    `db:"mailbox" json:"mailbox"`
	DraftUID  string    `db:"draft_uid" json:"draft_uid,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Store persists assistant activity.
type Store interface {
	RecordActivity(ctx context.Context, a Activity) error
	ListActivity(ctx context.Context, sessionID string, limit int) ([]Activity, error)

	CreateScheduledDraft(ctx context.Context, d ScheduledDraft) error
	ListScheduledDrafts(ctx context.Context, sessionID string) ([]ScheduledDraft, error)

	Close() error
}
