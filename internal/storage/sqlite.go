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
	"time"

	_ "modernc.org/sqlite"

	logx "promptgate/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single
	// connection also makes TakeRate's transaction serialization trivial.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
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

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) PutEntry(ctx context.Context, key string, value []byte, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(key, value, until) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, until=excluded.until`,
		key, value, until.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetEntry(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, nil
	}
	var value []byte
	var until int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, until FROM entries WHERE key = ?`, key,
	).Scan(&value, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if until < time.Now().UnixMilli() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *sqliteStore) TakeRate(ctx context.Context, identity string, windowStart, now time.Time, max int) (RateDecision, error) {
	if s == nil || s.db == nil {
		return RateDecision{}, ErrDisabled
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RateDecision{}, err
	}
	defer func() { _ = tx.Rollback() }()

	startMs := windowStart.UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_events WHERE identity = ? AND at < ?`, identity, startMs,
	); err != nil {
		return RateDecision{}, err
	}

	var count int
	var oldest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(at) FROM rate_events WHERE identity = ?`, identity,
	).Scan(&count, &oldest); err != nil {
		return RateDecision{}, err
	}

	d := RateDecision{Count: count}
	if oldest.Valid {
		d.Oldest = time.UnixMilli(oldest.Int64)
	}

	if max > 0 && count >= max {
		// Commit the prune; the request itself is not recorded.
		if err := tx.Commit(); err != nil {
			return RateDecision{}, err
		}
		return d, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rate_events(identity, at) VALUES(?,?)`, identity, now.UnixMilli(),
	); err != nil {
		return RateDecision{}, err
	}
	if err := tx.Commit(); err != nil {
		return RateDecision{}, err
	}
	d.Allowed = true
	return d, nil
}

func (s *sqliteStore) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	removed := 0
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE until < ?`, now.UnixMilli())
	if err != nil {
		return removed, err
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += int(n)
	}
	// Rate events older than a day are stale under any plausible window.
	res, err = s.db.ExecContext(ctx, `DELETE FROM rate_events WHERE at < ?`, now.Add(-24*time.Hour).UnixMilli())
	if err != nil {
		return removed, err
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += int(n)
	}
	return removed, nil
}
