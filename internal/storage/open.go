package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "ticketwatch/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.KeepPerSite <= 0 {
		cfg.KeepPerSite = DefaultKeepPerSite
	}

	var (
		st  Store
		err error
	)
	switch driver {
	case "", "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return st, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = st.Close()
		return nil, fmt.Errorf("redis ledger %s: %w", cfg.Redis.Addr, err)
	}
	log.Info("ledger stored in redis", logx.String("addr", cfg.Redis.Addr), logx.String("key", cfg.Redis.Key))
	return &splitStore{Store: st, ledger: NewRedisLedger(client, cfg.Redis.Key), closer: client.Close}, nil
}

// splitStore serves history from one backend and the ledger from another.
type splitStore struct {
	Store
	ledger LedgerStore
	closer func() error
}

func (s *splitStore) LoadLedger(ctx context.Context) ([]int, error) { return s.ledger.LoadLedger(ctx) }

func (s *splitStore) SaveLedger(ctx context.Context, ids []int) error {
	return s.ledger.SaveLedger(ctx, ids)
}

func (s *splitStore) Close() error {
	var err error
	if s.closer != nil {
		err = s.closer()
	}
	return errors.Join(s.Store.Close(), err)
}
