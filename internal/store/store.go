package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

// ErrAccountExists is returned when registering a remote id that is already tracked.
var ErrAccountExists = errors.New("account already registered")

// Config describes the database file and connection behavior.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries exposes every read and write statement against a Querier.
type Queries struct {
	q Querier
}

// New binds the query surface to q, typically a transaction handed out by the
// write serializer.
func New(q Querier) *Queries {
	return &Queries{q: q}
}

// Store owns the database handle. Its embedded Queries run against the pool
// and must only be used for reads.
type Store struct {
	*Queries
	db     *sql.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS creators (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE COLLATE NOCASE,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS accounts (
	remote_id         TEXT PRIMARY KEY,
	creator_id        INTEGER NOT NULL REFERENCES creators(id),
	handle            TEXT NOT NULL,
	display_name      TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'Active',
	is_protected      INTEGER NOT NULL DEFAULT 0,
	last_scraped_id   TEXT,
	download_enabled  INTEGER NOT NULL DEFAULT 1,
	notify_thread_ref TEXT,
	safety_rating     TEXT
);

CREATE TABLE IF NOT EXISTS posts (
	post_id        TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL REFERENCES accounts(remote_id) ON DELETE CASCADE,
	text           TEXT NOT NULL DEFAULT '',
	post_date      INTEGER NOT NULL,
	archive_date   INTEGER NOT NULL,
	safety_rating  TEXT NOT NULL DEFAULT 'Waiting',
	content_rating TEXT NOT NULL DEFAULT 'Waiting'
);

CREATE TABLE IF NOT EXISTS media (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id         TEXT NOT NULL REFERENCES posts(post_id) ON DELETE CASCADE,
	media_type      TEXT NOT NULL,
	original_url    TEXT NOT NULL,
	local_path      TEXT NOT NULL,
	caption         TEXT,
	media_index     INTEGER NOT NULL,
	perceptual_hash TEXT,
	data_hash       TEXT NOT NULL,
	duplicate_of    INTEGER REFERENCES media(id) ON DELETE SET NULL,
	width           INTEGER,
	height          INTEGER,
	filesize        INTEGER,
	safety_rating   TEXT NOT NULL DEFAULT 'Waiting',
	content_rating  TEXT NOT NULL DEFAULT 'Waiting',
	rating_independent INTEGER NOT NULL DEFAULT 0,
	UNIQUE (post_id, media_index)
);

CREATE INDEX IF NOT EXISTS idx_accounts_handle ON accounts(handle COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_posts_account_id ON posts(account_id);
CREATE INDEX IF NOT EXISTS idx_media_post_id ON media(post_id);
CREATE INDEX IF NOT EXISTS idx_media_data_hash ON media(data_hash);
CREATE INDEX IF NOT EXISTS idx_media_perceptual_hash ON media(perceptual_hash);
`

// Open creates (if needed) and migrates the database at cfg.Path.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		_ = db.Close()
		return nil, fmt.Errorf("expected WAL journal mode, got %q", mode)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	for _, col := range columnMigrations {
		if err := addColumn(ctx, db, col.table, col.definition); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Info("database ready", zap.String("path", cfg.Path))
	return &Store{Queries: New(db), db: db, logger: logger}, nil
}

// columnMigrations brings databases created before a column existed up to date.
var columnMigrations = []struct{ table, definition string }{
	{"media", "rating_independent INTEGER NOT NULL DEFAULT 0"},
}

func addColumn(ctx context.Context, db *sql.DB, table, definition string) error {
	_, err := db.ExecContext(ctx, "ALTER TABLE "+table+" ADD COLUMN "+definition)
	if err != nil && !strings.Contains(err.Error(), "duplicate column name") {
		return fmt.Errorf("migrate %s: %w", table, err)
	}
	return nil
}

func dsn(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	params.Set("_txlock", "immediate")
	return "file:" + cfg.Path + "?" + params.Encode()
}

// DB returns the underlying pool. The write serializer begins its
// transactions on it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func requireOneRow(res sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, archive.ErrNotFound)
	}
	return nil
}
