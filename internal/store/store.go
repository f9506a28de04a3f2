// Package store is the embedded SQLite persistence layer: connection
// bootstrap, schema/migration management, and the read/write DAOs consumed
// by the ingestion worker, alert engine, summarizer, and job registry.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// schemaStatements is executed statement-by-statement (not via a single
// multi-statement exec) so that a single failing CREATE doesn't take an
// exclusive lock across the whole batch.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS groups (
		id           INTEGER PRIMARY KEY,
		title        TEXT NOT NULL,
		username     TEXT,
		member_count INTEGER,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id           INTEGER NOT NULL,
		group_id     INTEGER NOT NULL,
		sender_id    INTEGER,
		sender_name  TEXT,
		text         TEXT,
		date         TEXT NOT NULL,
		media_type   TEXT,
		forward_from TEXT,
		reply_to_id  INTEGER,
		raw_json     TEXT,
		created_at   TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		url           TEXT NOT NULL,
		message_id    INTEGER NOT NULL,
		group_id      INTEGER NOT NULL,
		sender_name   TEXT,
		context       TEXT,
		discovered_at TEXT NOT NULL,
		title         TEXT,
		description   TEXT,
		image_url     TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS summaries (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id      INTEGER,
		period_start  TEXT NOT NULL,
		period_end    TEXT NOT NULL,
		message_count INTEGER NOT NULL,
		content       TEXT NOT NULL,
		model         TEXT,
		created_at    TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE TABLE IF NOT EXISTS summary_jobs (
		id            TEXT PRIMARY KEY,
		group_id      INTEGER,
		hours         INTEGER,
		mode          TEXT,
		status        TEXT,
		progress      INTEGER DEFAULT 0,
		progress_text TEXT,
		result        TEXT,
		error_msg     TEXT,
		created_at    TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_group_date ON messages(group_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date)`,
	`CREATE INDEX IF NOT EXISTS idx_links_group ON links(group_id, discovered_at)`,
	`CREATE INDEX IF NOT EXISTS idx_summaries_period ON summaries(period_start, period_end)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_links_unique ON links(url, group_id, message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_links_url ON links(url)`,
	`CREATE TABLE IF NOT EXISTS alerted_messages (
		msg_key    TEXT PRIMARY KEY,
		alerted_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE TABLE IF NOT EXISTS schema_version (
		version     INTEGER PRIMARY KEY,
		applied_at  TEXT NOT NULL DEFAULT (datetime('now')),
		description TEXT
	)`,
	// settings and tenants have no CREATE TABLE in the retrieved original
	// schema dump; their shape is inferred from settings.go/tenants.go's
	// column usage and added here rather than left undeclared.
	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT,
		updated_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS tenants (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		api_id       INTEGER,
		api_hash     TEXT,
		phone        TEXT,
		session_name TEXT,
		is_active    INTEGER NOT NULL DEFAULT 1,
		created_at   TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
}

const ftsCreateSQL = `CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	text,
	sender_name,
	content='messages',
	content_rowid='rowid'
)`

const ftsInsertTriggerSQL = `CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts(rowid, text, sender_name)
	VALUES (new.rowid, new.text, new.sender_name);
END`

const ftsUpdateTriggerSQL = `CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages
WHEN new.text IS NOT old.text BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, text, sender_name)
	VALUES ('delete', old.rowid, old.text, old.sender_name);
	INSERT INTO messages_fts(rowid, text, sender_name)
	VALUES (new.rowid, new.text, new.sender_name);
END`

const ftsDeleteTriggerSQL = `CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, text, sender_name)
	VALUES ('delete', old.rowid, old.text, old.sender_name);
END`

// migration is one step of the hand-rolled schema_version ledger. sqlite
// has no cgo-free migrate driver in this stack, so versioning is a plain
// ordered list applied in-process rather than golang-migrate.
type migration struct {
	version     int
	description string
	sql         string
}

var migrations = []migration{
	{1, "add alerted_messages table for alert deduplication", `CREATE TABLE IF NOT EXISTS alerted_messages (
		msg_key    TEXT PRIMARY KEY,
		alerted_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`},
	{2, "add title to links", `ALTER TABLE links ADD COLUMN title TEXT`},
	{3, "add description to links", `ALTER TABLE links ADD COLUMN description TEXT`},
	{4, "add image_url to links", `ALTER TABLE links ADD COLUMN image_url TEXT`},
}

// Store wraps the single embedded SQLite connection and every DAO surface.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open connects to path, applying the WAL pragmas, base schema, FTS index,
// and pending migrations in that order. The parent directory is created if
// missing.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY from this process
	// itself; WAL + busy_timeout handles contention with external readers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log}
	if err := s.bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA busy_timeout=60000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA cache_size=-32000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA wal_autocheckpoint=1000",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isUniqueViolation(err) && strings.Contains(stmt, "idx_links_unique") {
				s.log.Warn("links table has duplicate rows, deduping before rebuilding unique index")
				if _, derr := s.db.ExecContext(ctx, `DELETE FROM links WHERE rowid NOT IN (
					SELECT MIN(rowid) FROM links GROUP BY url, group_id, message_id
				)`); derr != nil {
					return fmt.Errorf("store: dedup links: %w", derr)
				}
				if _, rerr := s.db.ExecContext(ctx, stmt); rerr != nil {
					return fmt.Errorf("store: rebuild idx_links_unique: %w", rerr)
				}
				s.log.Info("links deduped, unique index rebuilt")
				continue
			}
			if !isAlreadyExists(err) {
				return fmt.Errorf("store: schema statement failed: %w\nstatement: %s", err, firstN(stmt, 120))
			}
		}
	}

	if err := s.bootstrapFTS(ctx); err != nil {
		// FTS is a search accelerator, not load-bearing: fall back to LIKE.
		s.log.Warn("fts5 bootstrap failed, search will fall back to LIKE", "error", err)
	}

	if err := s.runMigrations(ctx); err != nil {
		return err
	}
	s.log.Info("store connected", "mode", "wal")
	return nil
}

func (s *Store) bootstrapFTS(ctx context.Context) error {
	for _, stmt := range []string{ftsCreateSQL, ftsInsertTriggerSQL, ftsUpdateTriggerSQL, ftsDeleteTriggerSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	var ftsCount, msgCount int
	// Counted from the index's docsize shadow table: a full scan of an
	// external-content FTS5 table reads the content table instead.
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages_fts_docsize`).Scan(&ftsCount); err != nil {
		return err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE text IS NOT NULL`).Scan(&msgCount); err != nil {
		return err
	}
	if ftsCount == 0 && msgCount > 0 {
		s.log.Info("rebuilding fts index", "messages", msgCount)
		if _, err := s.db.ExecContext(ctx, `INSERT INTO messages_fts(messages_fts) VALUES('rebuild')`); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	var pending []migration
	for _, m := range migrations {
		if m.version > current {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	s.log.Info("applying migrations", "count", len(pending), "from_version", current)
	for _, m := range pending {
		_, err := s.db.ExecContext(ctx, m.sql)
		if err != nil && !isAlreadyExists(err) && !isDuplicateColumn(err) {
			return fmt.Errorf("store: migration v%d (%s): %w", m.version, m.description, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_version (version, description) VALUES (?, ?)`,
			m.version, m.description,
		); err != nil {
			return fmt.Errorf("store: record migration v%d: %w", m.version, err)
		}
		s.log.Info("migration applied", "version", m.version, "description", m.description)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for callers (e.g. job registry) that need a
// direct query the higher-level DAOs don't cover.
func (s *Store) DB() *sql.DB {
	return s.db
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func isDuplicateColumn(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "duplicate")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
