package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ticketwatch/internal/availability"
	"ticketwatch/internal/channel/telegram"
	"ticketwatch/internal/config"
	"ticketwatch/internal/dispatch"
	"ticketwatch/internal/fetcher"
	"ticketwatch/internal/observability/httpserver"
	"ticketwatch/internal/observability/tracing"
	"ticketwatch/internal/reconcile"
	"ticketwatch/internal/report"
	"ticketwatch/internal/scheduler"
	"ticketwatch/internal/sites"
	"ticketwatch/internal/storage"
	logx "ticketwatch/pkg/logx"
)

const (
	defaultSchedule    = "20s"
	defaultStoragePath = "./data/ticketwatch.json"
	defaultBackupFile  = "./data/backup_sites.json"
)

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationField("telegram.request_timeout", cfg.Telegram.RequestTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          cfg.Telegram.Token,
		RequestTimeout: timeout,
		Offline:        cfg.Telegram.Offline,
		URL:            strings.TrimSpace(cfg.Telegram.URL),
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
		},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled && cfg.Telegram.LogChatID != 0,
			ChatID:     cfg.Telegram.LogChatID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapFetcherConfig(cfg *config.Config) (fetcher.Config, error) {
	c := cfg.Checker
	base := strings.TrimSpace(c.BaseURL)
	if base == "" && strings.TrimSpace(c.Domain) != "" {
		base = fetcher.BaseURLForDomain(c.Domain)
	}
	if base == "" {
		return fetcher.Config{}, errors.New("checker.base_url or checker.domain is required")
	}
	retryBase, err := config.ParseDurationField("checker.retry_base", c.RetryBase)
	if err != nil {
		return fetcher.Config{}, err
	}
	timeout, err := config.ParseDurationField("checker.request_timeout", c.RequestTimeout)
	if err != nil {
		return fetcher.Config{}, err
	}
	return fetcher.Config{
		BaseURL:        base,
		Concurrency:    c.Concurrency,
		RetryLimit:     c.RetryLimit,
		RetryBase:      retryBase,
		RequestTimeout: timeout,
		RatePerSec:     c.RatePerSec,
		UserAgent:      c.UserAgent,
	}, nil
}

func mapTrackerConfig(cfg *config.Config) availability.TrackerConfig {
	return availability.TrackerConfig{
		DropThreshold: cfg.Alerts.DropThreshold,
		HistoryWindow: cfg.Alerts.HistoryWindow,
	}
}

func mapReportConfig(cfg *config.Config) (report.Config, error) {
	r := cfg.Report
	loc := time.Local
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return report.Config{}, fmt.Errorf("report.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}
	return report.Config{
		MaxPartLen: r.MaxPartLen,
		Header:     r.Header,
		TimeLayout: r.TimeLayout,
		Location:   loc,
		OmitAlerts: r.IncludeAlerts != nil && !*r.IncludeAlerts,
	}, nil
}

func mapReconcileConfig(cfg *config.Config) reconcile.Config {
	return reconcile.Config{
		ChatID:            cfg.Telegram.InfoChatID,
		DeleteRecentLimit: cfg.Report.DeleteRecentLimit,
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	base, err := config.ParseDurationField("dispatch.base_delay", d.BaseDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	margin, err := config.ParseDurationField("dispatch.rate_limit_margin", d.RateLimitMargin)
	if err != nil {
		return dispatch.Config{}, err
	}
	call, err := config.ParseDurationField("dispatch.call_timeout", d.CallTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		BaseDelay:           base,
		RateLimitMargin:     margin,
		MaxAttempts:         d.MaxAttempts,
		MaxRateLimitRetries: d.MaxRateLimitRetries,
		QueueSize:           d.QueueSize,
		CallTimeout:         call,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	s := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	retention, err := config.ParseDurationField("storage.retention", s.Retention)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(s.Path)
	if path == "" {
		path = defaultStoragePath
	}
	return storage.Config{
		Driver:      s.Driver,
		Path:        path,
		BusyTimeout: busy,
		Retention:   retention,
		KeepPerSite: s.KeepPerSite,
		Redis: storage.RedisConfig{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Key:      s.Redis.Key,
		},
	}, nil
}

func mapPostgresConfig(cfg *config.Config) (sites.PostgresConfig, error) {
	p := cfg.Sites.Postgres
	delay, err := config.ParseDurationField("sites.postgres.connect_delay", p.ConnectDelay)
	if err != nil {
		return sites.PostgresConfig{}, err
	}
	return sites.PostgresConfig{
		DSN:             p.DSN,
		Table:           p.Table,
		ConnectAttempts: p.ConnectAttempts,
		ConnectDelay:    delay,
	}, nil
}

func backupFile(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Sites.BackupFile); p != "" {
		return p
	}
	if p := strings.TrimSpace(cfg.Storage.Path); p != "" {
		return filepath.Join(filepath.Dir(p), "backup_sites.json")
	}
	return defaultBackupFile
}

func mapHTTPConfig(cfg *config.Config) httpserver.Config {
	h := cfg.HTTP
	return httpserver.Config{
		Enabled:       h.Enabled,
		Addr:          h.Addr,
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   10 * time.Second,
		IdleTimeout:   60 * time.Second,
	}
}

func mapTracingConfig(cfg *config.Config) tracing.Config {
	return tracing.Config{ServiceName: "ticketwatch", Mode: cfg.Tracing.Mode, SampleRatio: cfg.Tracing.SampleRatio}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	rc, err := mapReportConfig(cfg)
	if err != nil {
		return scheduler.Config{}, err
	}
	schedule := strings.TrimSpace(cfg.Checker.Schedule)
	if schedule == "" {
		schedule = defaultSchedule
	}
	if _, err := scheduler.ParseSchedule(schedule); err != nil {
		return scheduler.Config{}, fmt.Errorf("checker.schedule: %w", err)
	}
	return scheduler.Config{
		Schedule:    schedule,
		AlertChatID: cfg.Telegram.AlertChatID,
		Report:      rc,
	}, nil
}

// ValidateConfig runs the field checks and every mapping. It is also the hot
// reload validator.
func ValidateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	_, err := mapTelegramConfig(cfg)
	collect(err)
	_, err = mapFetcherConfig(cfg)
	collect(err)
	_, err = mapDispatchConfig(cfg)
	collect(err)
	_, err = mapStorageConfig(cfg)
	collect(err)
	_, err = mapPostgresConfig(cfg)
	collect(err)
	_, err = mapSchedulerConfig(cfg)
	collect(err)
	return errors.Join(errs...)
}
