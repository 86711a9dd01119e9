// Package store persists tab metadata and the session history in a
// SQLite database. WAL mode plus a busy timeout makes it safe for
// concurrent use from multiple goroutines and cooperating processes.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shellpanel/shellpanel/internal/panel"
)

// SchemaVersion tracks the current database schema version. Bump when
// adding migrations.
const SchemaVersion = 1

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// WAL allows concurrent readers while writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}
	// Wait up to 5s if another process holds a lock.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Migrate creates tables if they don't exist.
func (s *Store) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS tabs (
			session_path TEXT NOT NULL,
			tab_id       TEXT NOT NULL,
			sort_order   INTEGER NOT NULL DEFAULT 0,
			display_name TEXT NOT NULL DEFAULT '',
			color        TEXT NOT NULL DEFAULT '',
			channel      TEXT NOT NULL DEFAULT '',
			is_active    INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_path, tab_id)
		)
	`); err != nil {
		return fmt.Errorf("store: create tabs: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS persisted_sessions (
			project_path   TEXT PRIMARY KEY,
			project_name   TEXT NOT NULL,
			last_active_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create persisted_sessions: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprintf("%d", SchemaVersion),
	); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit migrate: %w", err)
	}
	return nil
}

// CreateTab inserts one tab row. Implements panel.TabStore.
func (s *Store) CreateTab(sessionPath string, t panel.Tab) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tabs
			(session_path, tab_id, sort_order, display_name, color, channel, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionPath, t.ID, t.Order, t.DisplayName, string(t.Color), t.Channel, boolToInt(t.Active))
	if err != nil {
		return fmt.Errorf("store: create tab: %w", err)
	}
	return nil
}

// UpdateTab rewrites one tab row. Implements panel.TabStore.
func (s *Store) UpdateTab(sessionPath string, t panel.Tab) error {
	_, err := s.db.Exec(`
		UPDATE tabs
		SET sort_order = ?, display_name = ?, color = ?, channel = ?, is_active = ?
		WHERE session_path = ? AND tab_id = ?
	`, t.Order, t.DisplayName, string(t.Color), t.Channel, boolToInt(t.Active), sessionPath, t.ID)
	if err != nil {
		return fmt.Errorf("store: update tab: %w", err)
	}
	return nil
}

// DeleteTab removes one tab row. Implements panel.TabStore.
func (s *Store) DeleteTab(sessionPath, tabID string) error {
	_, err := s.db.Exec(`DELETE FROM tabs WHERE session_path = ? AND tab_id = ?`, sessionPath, tabID)
	if err != nil {
		return fmt.Errorf("store: delete tab: %w", err)
	}
	return nil
}

// DeleteSessionTabs removes all tab rows of a session. Implements
// panel.TabStore.
func (s *Store) DeleteSessionTabs(sessionPath string) error {
	_, err := s.db.Exec(`DELETE FROM tabs WHERE session_path = ?`, sessionPath)
	if err != nil {
		return fmt.Errorf("store: delete session tabs: %w", err)
	}
	return nil
}

// ListTabs returns a session's tabs ordered by sort_order.
func (s *Store) ListTabs(sessionPath string) ([]panel.Tab, error) {
	rows, err := s.db.Query(`
		SELECT tab_id, sort_order, display_name, color, channel, is_active
		FROM tabs
		WHERE session_path = ?
		ORDER BY sort_order
	`, sessionPath)
	if err != nil {
		return nil, fmt.Errorf("store: list tabs: %w", err)
	}
	defer rows.Close()

	var tabs []panel.Tab
	for rows.Next() {
		var t panel.Tab
		var color string
		var active int
		if err := rows.Scan(&t.ID, &t.Order, &t.DisplayName, &color, &t.Channel, &active); err != nil {
			return nil, fmt.Errorf("store: scan tab: %w", err)
		}
		t.Color = panel.TabColor(color)
		t.Active = active != 0
		tabs = append(tabs, t)
	}
	return tabs, rows.Err()
}

// TouchSession upserts a session-history row with a new last-active
// timestamp.
func (s *Store) TouchSession(projectPath, projectName string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO persisted_sessions (project_path, project_name, last_active_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_path) DO UPDATE SET
			project_name = excluded.project_name,
			last_active_at = excluded.last_active_at
	`, projectPath, projectName, at.Unix())
	if err != nil {
		return fmt.Errorf("store: touch session: %w", err)
	}
	return nil
}

// RecentSessions returns the session history, most recent first.
func (s *Store) RecentSessions(limit int) ([]panel.PersistedSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT project_path, project_name, last_active_at
		FROM persisted_sessions
		ORDER BY last_active_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent sessions: %w", err)
	}
	defer rows.Close()

	var out []panel.PersistedSession
	for rows.Next() {
		var rec panel.PersistedSession
		var ts int64
		if err := rows.Scan(&rec.ProjectPath, &rec.ProjectName, &ts); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		rec.LastActiveAt = time.Unix(ts, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ForgetSession removes a project from the history (used when its
// directory disappears).
func (s *Store) ForgetSession(projectPath string) error {
	_, err := s.db.Exec(`DELETE FROM persisted_sessions WHERE project_path = ?`, projectPath)
	if err != nil {
		return fmt.Errorf("store: forget session: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
