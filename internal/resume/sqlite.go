// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/reelplay/internal/persistence/sqlite"
	"github.com/ManuGH/reelplay/internal/source"
)

const schemaVersion = 1

// SqliteStore implements Store on a local SQLite file.
type SqliteStore struct {
	DB  *sql.DB
	now func() time.Time
}

// NewSqliteStore opens (or creates) the store at dbPath. An existing file
// that fails quick_check is refused rather than silently rewritten.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("resume store: create dir: %w", err)
	}
	if _, err := os.Stat(dbPath); err == nil {
		issues, err := sqlite.VerifyIntegrity(dbPath, sqlite.CheckQuick)
		if err != nil {
			return nil, fmt.Errorf("resume store: verify: %w", err)
		}
		if len(issues) > 0 {
			return nil, fmt.Errorf("resume store: %s is corrupt: %s", dbPath, strings.Join(issues, "; "))
		}
	}

	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SqliteStore{DB: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resume store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var current int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS resume_positions (
		series_code TEXT NOT NULL,
		lang TEXT NOT NULL,
		episode INTEGER NOT NULL,
		pos_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		PRIMARY KEY (series_code, lang, episode)
	);
	CREATE INDEX IF NOT EXISTS idx_resume_updated ON resume_positions(updated_at_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Load(ctx context.Context, key source.Key) (time.Duration, bool, error) {
	var ms int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT pos_ms FROM resume_positions WHERE series_code = ? AND lang = ? AND episode = ?`,
		key.SeriesCode, key.Lang, key.Number).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resume store: load %s: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

func (s *SqliteStore) Save(ctx context.Context, key source.Key, pos time.Duration) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if pos < 0 {
		pos = 0
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO resume_positions (series_code, lang, episode, pos_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(series_code, lang, episode) DO UPDATE SET
			pos_ms = excluded.pos_ms,
			updated_at_ms = excluded.updated_at_ms`,
		key.SeriesCode, key.Lang, key.Number, pos.Milliseconds(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("resume store: save %s: %w", key, err)
	}
	return nil
}

func (s *SqliteStore) Delete(ctx context.Context, key source.Key) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM resume_positions WHERE series_code = ? AND lang = ? AND episode = ?`,
		key.SeriesCode, key.Lang, key.Number)
	if err != nil {
		return fmt.Errorf("resume store: delete %s: %w", key, err)
	}
	return nil
}

// Prune drops positions not touched since before cutoff.
func (s *SqliteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM resume_positions WHERE updated_at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("resume store: prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
