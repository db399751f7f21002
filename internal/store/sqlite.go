package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "sendbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeFormat is RFC 3339 with a fixed-width nine-digit fraction. Timestamps
// are compared as strings in ORDER BY clauses, so the encoding must sort
// lexicographically the same as chronologically; RFC3339Nano strips trailing
// fraction zeros and breaks that (".15" sorts before ".1").
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type Store struct {
	db  *sql.DB
	log logx.Logger

	// now is swappable in tests.
	now func() time.Time
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &Store{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Checkpoint truncates the WAL. Called from the maintenance cron.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

const (
	commitRetries = 5
	commitBackoff = 100 * time.Millisecond
)

// withTx runs fn inside a transaction and retries the whole unit on transient
// SQLite contention (busy/locked), with exponential backoff. Exhausting the
// budget surfaces the last error wrapped in ErrRetryExhausted; it is never
// swallowed.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var last error
	backoff := commitBackoff
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		last = err
		if attempt >= commitRetries {
			return fmt.Errorf("%w: %w", ErrRetryExhausted, last)
		}
		if !s.log.IsZero() {
			s.log.Warn("transient commit failure; retrying",
				logx.Int("attempt", attempt+1),
				logx.Duration("backoff", backoff),
				logx.Any("err", err),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "busy")
}

// appendEvent inserts a timeline row inside the caller's transaction.
func (s *Store) appendEvent(tx *sql.Tx, jobID, kind, detail string) error {
	_, err := tx.Exec(
		`INSERT INTO job_events(job_id, ts, kind, detail) VALUES(?,?,?,?)`,
		jobID, s.now().Format(timeFormat), kind, detail,
	)
	return err
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func scanTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
