// Package session persists a runtime's history, title and cookies in
// SQLite so a page can be resumed by a later process.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/history"
	"github.com/qor5/web/internal/logging"
)

// Cookie is one persisted cookie and the address it was read for.
type Cookie struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Snapshot is everything needed to resume a runtime.
type Snapshot struct {
	Name    string           `json:"name"`
	Href    string           `json:"href"`
	Title   string           `json:"title,omitempty"`
	Index   int              `json:"index"`
	Records []history.Record `json:"records"`
	Cookies []Cookie         `json:"cookies,omitempty"`
	SavedAt time.Time        `json:"saved_at"`
}

// Store is a SQLite-backed session store.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open creates or opens the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if path == "" {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "session path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storeError("create session dir", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storeError("open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storeError("ping sqlite", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
		_ = db.Close()
		return nil, storeError("chmod session db", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, storeError("migrate session db", err)
	}
	return &Store{db: db, logger: logger.WithComponent("session")}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the stored snapshot named snap.Name.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if snap.Name == "" {
		return errors.NewValidationError("name", "session name is required")
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin save", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, snap.Name); err != nil {
		return storeError("clear session", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions(name, href, title, current_index, saved_at) VALUES (?, ?, ?, ?, ?)`,
		snap.Name, snap.Href, snap.Title, snap.Index, snap.SavedAt.Format(time.RFC3339Nano)); err != nil {
		return storeError("insert session", err)
	}

	for i, rec := range snap.Records {
		state, err := json.Marshal(rec.State)
		if err != nil {
			return errors.NewValidationError("state", fmt.Sprintf("history record %d state is not JSON: %v", i, err))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history_records(session_name, position, record_id, url, title, state_json) VALUES (?, ?, ?, ?, ?, ?)`,
			snap.Name, i, rec.ID, rec.URL, rec.Title, string(state)); err != nil {
			return storeError("insert history record", err)
		}
	}

	for _, c := range snap.Cookies {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO cookies(session_name, url, name, value) VALUES (?, ?, ?, ?)`,
			snap.Name, c.URL, c.Name, c.Value); err != nil {
			return storeError("insert cookie", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit save", err)
	}
	s.logger.Debug(ctx, "Session saved",
		"name", snap.Name,
		"records", len(snap.Records),
		"cookies", len(snap.Cookies))
	return nil
}

// Load returns the snapshot named name. found is false when nothing has
// been saved under that name.
func (s *Store) Load(ctx context.Context, name string) (snap *Snapshot, found bool, err error) {
	out := Snapshot{Name: name}
	var savedAt string
	err = s.db.QueryRowContext(ctx,
		`SELECT href, title, current_index, saved_at FROM sessions WHERE name = ?`, name).
		Scan(&out.Href, &out.Title, &out.Index, &savedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("load session", err)
	}
	if t, perr := time.Parse(time.RFC3339Nano, savedAt); perr == nil {
		out.SavedAt = t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, url, title, state_json FROM history_records WHERE session_name = ? ORDER BY position`, name)
	if err != nil {
		return nil, false, storeError("load history records", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec history.Record
		var state string
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Title, &state); err != nil {
			return nil, false, storeError("scan history record", err)
		}
		if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
			return nil, false, errors.NewDecodeError("history record state", err)
		}
		out.Records = append(out.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, storeError("iterate history records", err)
	}

	crows, err := s.db.QueryContext(ctx,
		`SELECT url, name, value FROM cookies WHERE session_name = ? ORDER BY url, name`, name)
	if err != nil {
		return nil, false, storeError("load cookies", err)
	}
	defer crows.Close()
	for crows.Next() {
		var c Cookie
		if err := crows.Scan(&c.URL, &c.Name, &c.Value); err != nil {
			return nil, false, storeError("scan cookie", err)
		}
		out.Cookies = append(out.Cookies, c)
	}
	if err := crows.Err(); err != nil {
		return nil, false, storeError("iterate cookies", err)
	}
	return &out, true, nil
}

// Delete removes the snapshot named name. Deleting a missing session is
// not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name); err != nil {
		return storeError("delete session", err)
	}
	return nil
}

// Names lists stored sessions by name.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sessions ORDER BY name`)
	if err != nil {
		return nil, storeError("list sessions", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, storeError("scan session name", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func storeError(msg string, err error) error {
	return errors.NewInternalError(errors.ErrCodeSessionStore, msg, err).WithComponent("session")
}
