// Package audit keeps a local SQLite log of dispatched actions.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"holectl/internal/domain"

	_ "modernc.org/sqlite"
)

// Store implements domain.Auditor on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.Auditor = (*Store)(nil)

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create audit directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open audit database: %w", err)
	}
	// single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit migration failed: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Record appends one entry.
func (s *Store) Record(ctx context.Context, e domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_log (id, action, domain, ok, status, error_kind, error, retried, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Domain, e.OK, e.Status, e.ErrorKind, e.Error, e.Retried, e.DurationMS, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, COALESCE(domain, ''), ok, status, COALESCE(error_kind, ''), COALESCE(error, ''),
		        retried, duration_ms, created_at
		 FROM action_log ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Domain, &e.OK, &e.Status, &e.ErrorKind, &e.Error,
			&e.Retried, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries created before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_log WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune audit log: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("audit log pruned", "deleted", n, "before", cutoff)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
