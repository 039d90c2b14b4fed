package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS activity (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	tool        TEXT NOT NULL,
	args        TEXT NOT NULL DEFAULT '{}',
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_session ON activity(session_id, created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS scheduled_drafts (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	recipient   TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	send_at     TEXT NOT NULL,
	mailbox     TEXT NOT NULL,
	draft_uid   TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scheduled_drafts_session ON scheduled_drafts(session_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
