package sites

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "ticketwatch/pkg/logx"
)

const (
	DefaultTable           = "public.tables_sites"
	DefaultConnectAttempts = 5
	DefaultConnectDelay    = 5 * time.Second
)

var (
	ErrNoDSN        = errors.New("postgres dsn is empty")
	ErrInvalidTable = errors.New("invalid table name")
)

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type PostgresConfig struct {
	DSN             string
	Table           string
	ConnectAttempts int
	ConnectDelay    time.Duration
	MaxConns        int32
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if strings.TrimSpace(c.Table) == "" {
		c.Table = DefaultTable
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.ConnectDelay <= 0 {
		c.ConnectDelay = DefaultConnectDelay
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 2
	}
	return c
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres reads enabled site names from a table with a boolean site_check column.
// The pool is created on first use.
type Postgres struct {
	cfg   PostgresConfig
	log   logx.Logger
	query string

	mu    sync.Mutex
	pool  *pgxpool.Pool
	db    querier
	sleep func(ctx context.Context, d time.Duration) error
	dial  func(ctx context.Context) (querier, func(), error)
}

func NewPostgres(cfg PostgresConfig, log logx.Logger) (*Postgres, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, ErrNoDSN
	}
	if !tableRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, cfg.Table)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Postgres{
		cfg:   cfg,
		log:   log,
		query: BuildQuery(cfg.Table),
		sleep: sleepCtx,
	}
	p.dial = p.dialPool
	return p, nil
}

// BuildQuery returns the site list query for a (schema-qualified) table name.
func BuildQuery(table string) string {
	ident := pgx.Identifier(strings.Split(table, "."))
	return "SELECT name FROM " + ident.Sanitize() + " WHERE site_check = true"
}

func (p *Postgres) dialPool(ctx context.Context) (querier, func(), error) {
	pcfg, err := pgxpool.ParseConfig(p.cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse dsn: %w", err)
	}
	pcfg.MaxConns = p.cfg.MaxConns
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	p.pool = pool
	return pool, pool.Close, nil
}

func (p *Postgres) connect(ctx context.Context) (querier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return p.db, nil
	}
	var lastErr error
	for attempt := 1; attempt <= p.cfg.ConnectAttempts; attempt++ {
		db, _, err := p.dial(ctx)
		if err == nil {
			p.db = db
			return db, nil
		}
		lastErr = err
		p.log.Warn("postgres connect failed", logx.Int("attempt", attempt), logx.Int("of", p.cfg.ConnectAttempts), logx.Err(err))
		if attempt == p.cfg.ConnectAttempts {
			break
		}
		if err := p.sleep(ctx, p.cfg.ConnectDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("postgres connect after %d attempts: %w", p.cfg.ConnectAttempts, lastErr)
}

func (p *Postgres) Sites(ctx context.Context) ([]string, error) {
	db, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, p.query)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan sites: %w", err)
	}
	return Normalize(names), nil
}

func (p *Postgres) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	p.db = nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
