//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"adflow/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	keepLast   int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	keep := cfg.KeepLast
	if keep <= 0 {
		keep = 10000
	}
	st := &sqliteStore{db: db, log: log, keepLast: keep, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) AppendExecution(ctx context.Context, e ExecutionEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(at, execution_id, script_id, schedule_id, script_type, status, error, duration_ms, rows_processed, changes_made)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.UnixMilli(), e.ExecutionID, e.ScriptID, e.ScheduleID, e.ScriptType,
		e.Status, e.Error, e.DurationMS, e.Rows, e.Changes,
	)
	if err != nil {
		return err
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		s.prune(ctx)
	}
	return nil
}

func (s *sqliteStore) prune(ctx context.Context) {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM executions WHERE id NOT IN (
			SELECT id FROM executions ORDER BY at DESC LIMIT ?
		)`, s.keepLast)
	if err != nil {
		s.log.Warn("audit prune failed", logx.Err(err))
	}
}

func (s *sqliteStore) RecentExecutions(ctx context.Context, limit int) ([]ExecutionEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, execution_id, script_id, schedule_id, script_type, status, error, duration_ms, rows_processed, changes_made
		FROM executions ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionEntry
	for rows.Next() {
		var e ExecutionEntry
		var atMS int64
		if err := rows.Scan(&atMS, &e.ExecutionID, &e.ScriptID, &e.ScheduleID, &e.ScriptType,
			&e.Status, &e.Error, &e.DurationMS, &e.Rows, &e.Changes); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(atMS)
		out = append(out, e)
	}
	// Oldest first, matching the file driver.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
