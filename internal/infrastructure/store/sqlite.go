// Package store persists trust records, learned recipes and the answer
// history in one sqlite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// migrations run in order; index+1 is the schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trust (
		actor       TEXT PRIMARY KEY,
		score       REAL    NOT NULL,
		xp          INTEGER NOT NULL,
		good_streak INTEGER NOT NULL,
		bad_streak  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS recipes (
		id           TEXT PRIMARY KEY,
		intent       TEXT    NOT NULL,
		tokens       TEXT    NOT NULL,
		probes       TEXT    NOT NULL,
		template     TEXT    NOT NULL,
		reliability  REAL    NOT NULL,
		usage        INTEGER NOT NULL,
		created_at   INTEGER NOT NULL,
		last_used_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS recipes_intent ON recipes(intent);
	CREATE TABLE IF NOT EXISTS answers (
		id          TEXT PRIMARY KEY,
		asked_at    INTEGER NOT NULL,
		intent      TEXT    NOT NULL,
		origin      TEXT    NOT NULL,
		label       TEXT    NOT NULL,
		reliability REAL    NOT NULL,
		elapsed_ms  INTEGER NOT NULL,
		text        TEXT    NOT NULL,
		question    TEXT    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS answers_asked_at ON answers(asked_at);`,
}

// SQLiteStore implements the trust, recipe and history repositories.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger ports.Logger
}

// Open creates (or opens) the database at path. A file that fails the
// integrity check is moved aside to <path>.corrupt-<unix> and recreated empty.
func Open(ctx context.Context, path string, logger ports.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := openChecked(ctx, path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, fmt.Errorf("open state db: %w", err)
		}
		quarantined, qErr := quarantine(path)
		if qErr != nil {
			return nil, fmt.Errorf("open state db: %w (quarantine failed: %v)", err, qErr)
		}
		if logger != nil {
			logger.Warn("state database corrupt; starting empty", map[string]interface{}{
				"error":       err.Error(),
				"quarantined": quarantined,
			})
		}
		if db, err = openChecked(ctx, path); err != nil {
			return nil, fmt.Errorf("recreate state db: %w", err)
		}
	}
	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

func openChecked(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := check(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrStoreCorrupt, err)
	}
	return db, nil
}

func check(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", domain.ErrStoreCorrupt, err)
	}
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: integrity check: %v", domain.ErrStoreCorrupt, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check: %s", domain.ErrStoreCorrupt, result)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 2000"); err != nil {
		return fmt.Errorf("%w: busy_timeout: %v", domain.ErrStoreCorrupt, err)
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func quarantine(path string) (string, error) {
	dest := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return dest, err
		}
	}
	return dest, nil
}

// Ping reports whether the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the sqlite database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) skip(table string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn("skipping undecodable row", map[string]interface{}{
		"table": table,
		"error": err.Error(),
	})
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var (
	_ ports.TrustRepository   = (*SQLiteStore)(nil)
	_ ports.RecipeRepository  = (*SQLiteStore)(nil)
	_ ports.HistoryRepository = (*SQLiteStore)(nil)
)
