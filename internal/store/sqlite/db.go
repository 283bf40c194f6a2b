// Package sqlite implements the standalone-mode backing stores using the
// pure-Go modernc.org/sqlite driver, mirroring the teacher's standalone
// (store/file) vs managed (store/pg) duality — same store.Stores contracts,
// a local file instead of a Postgres cluster.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS publish_records (
	id            TEXT PRIMARY KEY,
	platform      TEXT NOT NULL,
	account_name  TEXT NOT NULL,
	file_path     TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	upload_status TEXT NOT NULL DEFAULT '',
	push_status   TEXT NOT NULL DEFAULT '',
	review_status TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_publish_records_platform ON publish_records (platform, created_at DESC);

CREATE TABLE IF NOT EXISTS scheduler_tasks (
	id                    TEXT PRIMARY KEY,
	platform              TEXT NOT NULL,
	account_id            TEXT NOT NULL,
	current_cookie_file   TEXT NOT NULL DEFAULT '',
	sync_interval_minutes INTEGER NOT NULL DEFAULT 15,
	enabled               BOOLEAN NOT NULL DEFAULT 1,
	priority              INTEGER NOT NULL DEFAULT 5,
	status                TEXT NOT NULL DEFAULT 'pending',
	last_sync_at          DATETIME,
	next_sync_at          DATETIME,
	sync_count            INTEGER NOT NULL DEFAULT 0,
	error_count           INTEGER NOT NULL DEFAULT 0,
	consecutive_errors    INTEGER NOT NULL DEFAULT 0,
	last_error            TEXT NOT NULL DEFAULT '',
	total_messages        INTEGER NOT NULL DEFAULT 0,
	updated_at            DATETIME NOT NULL,
	UNIQUE (platform, account_id)
);
`

// OpenDB opens (creating if necessary) the sqlite database at path and
// applies the self-managed schema. Standalone mode has no golang-migrate
// runner — ddl is small and idempotent enough to apply on every startup.
func OpenDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return db, nil
}
