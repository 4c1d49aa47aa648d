package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"ticketwatch/internal/availability"
	logx "ticketwatch/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	retention  time.Duration
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log, retention: cfg.Retention, pruneEvery: 500}
	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendResult(ctx context.Context, r availability.SiteCheckResult, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_results(site, total_events_count, events_with_tickets_count, events_without_tickets_count, checked_at)
		 VALUES(?,?,?,?,?)`,
		r.SiteName, r.TotalEvents, r.WithTickets, r.WithoutTickets, at.UnixNano(),
	)
	if err == nil && s.retention > 0 && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("history prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentResults(ctx context.Context, site string, limit int) ([]availability.HistoryRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT events_with_tickets_count, total_events_count, checked_at FROM event_results
		 WHERE site = ? AND checked_at >= ? ORDER BY checked_at DESC, id DESC LIMIT ?`,
		site, s.cutoff(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.HistoryRecord
	for rows.Next() {
		var (
			rec availability.HistoryRecord
			ns  int64
		)
		if err := rows.Scan(&rec.WithTickets, &rec.TotalEvents, &ns); err != nil {
			return nil, err
		}
		rec.CheckedAt = time.Unix(0, ns).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) cutoff() int64 {
	if s.retention <= 0 {
		return 0
	}
	return time.Now().Add(-s.retention).UnixNano()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM event_results WHERE checked_at < ?`, s.cutoff())
	return err
}

func (s *sqliteStore) LoadLedger(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id FROM message_ledger ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) SaveLedger(ctx context.Context, ids []int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_ledger`); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT INTO message_ledger(position, message_id) VALUES(?,?)`, i, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}
