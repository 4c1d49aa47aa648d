package sites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ticketwatch/internal/eventbus"
	"ticketwatch/internal/observability/metrics"
	logx "ticketwatch/pkg/logx"
)

// FallbackEvent is published when the backup list is served instead of the primary.
type FallbackEvent struct {
	Err   string
	Sites int
}

// Cached writes every successful primary result to a JSON backup file and
// serves that file when the primary fails.
type Cached struct {
	primary Provider
	path    string
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
}

type CachedOption func(*Cached)

func WithLogger(log logx.Logger) CachedOption { return func(c *Cached) { c.log = log } }

func WithBus(bus eventbus.Bus) CachedOption { return func(c *Cached) { c.bus = bus } }

func WithMetrics(m *metrics.Metrics) CachedOption { return func(c *Cached) { c.metrics = m } }

func NewCached(primary Provider, backupPath string, opts ...CachedOption) *Cached {
	c := &Cached{primary: primary, path: backupPath, log: logx.Nop()}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c
}

func (c *Cached) Sites(ctx context.Context) ([]string, error) {
	names, err := c.primary.Sites(ctx)
	if err == nil {
		if werr := c.save(names); werr != nil {
			c.log.Error("saving site backup failed", logx.String("path", c.path), logx.Err(werr))
		}
		c.metrics.SiteListLoaded("primary")
		return names, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	backup, lerr := c.Load()
	if lerr != nil {
		return nil, errors.Join(err, fmt.Errorf("site backup: %w", lerr))
	}
	c.log.Error("site list unavailable, serving backup", logx.Int("sites", len(backup)), logx.Err(err))
	c.metrics.SiteListLoaded("backup")
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeSiteListFallback, Data: FallbackEvent{Err: err.Error(), Sites: len(backup)}})
	}
	return backup, nil
}

// Load reads the backup file. A missing file is an empty list.
func (c *Cached) Load() ([]string, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return nil, err
	}
	return Normalize(names), nil
}

func (c *Cached) save(names []string) error {
	if c.path == "" {
		return nil
	}
	if names == nil {
		names = []string{}
	}
	b, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
