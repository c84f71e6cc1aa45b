package session

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS sessions (
	name TEXT PRIMARY KEY,
	href TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	current_index INTEGER NOT NULL DEFAULT 0,
	saved_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS history_records (
	session_name TEXT NOT NULL REFERENCES sessions(name) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	record_id TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	state_json TEXT NOT NULL DEFAULT 'null',
	PRIMARY KEY (session_name, position)
);

CREATE TABLE IF NOT EXISTS cookies (
	session_name TEXT NOT NULL REFERENCES sessions(name) ON DELETE CASCADE,
	url TEXT NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (session_name, url, name)
);
`,
		DownSQL: `
DROP TABLE IF EXISTS cookies;
DROP TABLE IF EXISTS history_records;
DROP TABLE IF EXISTS sessions;
`,
	},
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
