// Package sqlitestore backs the Policy Store (C1), Audit Log (C3), and
// session row half of the persisted state with an embedded
// modernc.org/sqlite database, following the teacher's preference for a
// pure-Go driver over cgo-sqlite3.
package sqlitestore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS policy_version (
	id          TEXT PRIMARY KEY,
	label       TEXT NOT NULL UNIQUE,
	source      TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	active      INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_policy_version_one_active
	ON policy_version(active) WHERE active = 1;

CREATE TABLE IF NOT EXISTS session (
	id              TEXT PRIMARY KEY,
	created_at      TEXT NOT NULL,
	agent_id        TEXT NOT NULL DEFAULT '',
	user_id         TEXT NOT NULL DEFAULT '',
	metadata        TEXT NOT NULL DEFAULT '{}',
	archived        INTEGER NOT NULL DEFAULT 0,
	archived_at     TEXT,
	archived_by     TEXT NOT NULL DEFAULT '',
	retention_until TEXT
);

CREATE INDEX IF NOT EXISTS idx_session_agent ON session(agent_id);
CREATE INDEX IF NOT EXISTS idx_session_user ON session(user_id);
CREATE INDEX IF NOT EXISTS idx_session_retention ON session(retention_until);

CREATE TABLE IF NOT EXISTS log_entry (
	id                   TEXT PRIMARY KEY,
	session_id           TEXT NOT NULL REFERENCES session(id),
	seq_index            INTEGER NOT NULL,
	timestamp            TEXT NOT NULL,
	tool_name            TEXT NOT NULL,
	tool_args            TEXT NOT NULL DEFAULT '{}',
	policy_version_label TEXT NOT NULL,
	decision             TEXT NOT NULL,
	rule_name            TEXT NOT NULL DEFAULT '',
	reason               TEXT NOT NULL DEFAULT '',
	bypass               INTEGER NOT NULL DEFAULT 0,
	status               TEXT NOT NULL,
	outcome              TEXT,
	error_message        TEXT NOT NULL DEFAULT '',
	duration_ms          INTEGER NOT NULL DEFAULT 0,
	sealed_at            TEXT,
	prev_hash            TEXT NOT NULL,
	own_hash             TEXT NOT NULL,
	UNIQUE(session_id, seq_index)
);

CREATE INDEX IF NOT EXISTS idx_log_entry_session ON log_entry(session_id, seq_index);
`

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema migration. path may be ":memory:" for tests.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	// modernc.org/sqlite serializes writers internally; a single
	// connection avoids SQLITE_BUSY under concurrent writers without
	// reaching for a connection-pool-aware retry layer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: set busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate schema: %w", err)
	}
	return db, nil
}
