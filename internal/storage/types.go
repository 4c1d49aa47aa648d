package storage

import (
	"context"
	"errors"
	"time"

	"ticketwatch/internal/availability"
)

var ErrClosed = errors.New("storage closed")

// HistoryStore records check results per site.
type HistoryStore interface {
	AppendResult(ctx context.Context, r availability.SiteCheckResult, at time.Time) error
	// RecentResults returns up to limit records for site, most recent first.
	RecentResults(ctx context.Context, site string, limit int) ([]availability.HistoryRecord, error)
}

// LedgerStore keeps the ordered message ids of the live report.
type LedgerStore interface {
	// LoadLedger returns an empty ledger when nothing was saved yet.
	LoadLedger(ctx context.Context) ([]int, error)
	SaveLedger(ctx context.Context, ids []int) error
}

type Store interface {
	HistoryStore
	LedgerStore
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines history + ledger snapshot next to Path
//   - "sqlite": SQLite database at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retention drops history older than this. Zero keeps everything.
	Retention time.Duration
	// KeepPerSite bounds the per-site history the file driver keeps in memory
	// and on disk after compaction.
	KeepPerSite int
	Redis       RedisConfig
}

// RedisConfig moves the ledger to Redis when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

const (
	DefaultKeepPerSite = 100
	DefaultRedisKey    = "ticketwatch:ledger"
)
