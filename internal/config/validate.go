package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks fields that do not depend on other packages.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken))
	}
	if cfg.Telegram.InfoChatID == 0 {
		errs = append(errs, errors.New("telegram.info_chat_id is required"))
	}
	if strings.TrimSpace(cfg.Checker.BaseURL) == "" && strings.TrimSpace(cfg.Checker.Domain) == "" {
		errs = append(errs, fmt.Errorf("checker.base_url or checker.domain is required (or set %s)", EnvDomain))
	}
	for _, n := range []struct {
		path string
		v    int
	}{
		{"checker.concurrency", cfg.Checker.Concurrency},
		{"checker.retry_limit", cfg.Checker.RetryLimit},
		{"alerts.history_window", cfg.Alerts.HistoryWindow},
		{"report.max_part_len", cfg.Report.MaxPartLen},
		{"report.delete_recent_limit", cfg.Report.DeleteRecentLimit},
		{"dispatch.max_attempts", cfg.Dispatch.MaxAttempts},
		{"dispatch.max_rate_limit_retries", cfg.Dispatch.MaxRateLimitRetries},
		{"dispatch.queue_size", cfg.Dispatch.QueueSize},
		{"storage.keep_per_site", cfg.Storage.KeepPerSite},
		{"sites.postgres.connect_attempts", cfg.Sites.Postgres.ConnectAttempts},
	} {
		if n.v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0", n.path))
		}
	}
	if cfg.Alerts.DropThreshold < 0 {
		errs = append(errs, errors.New("alerts.drop_threshold must be >= 0"))
	}
	if cfg.Checker.RatePerSec < 0 {
		errs = append(errs, errors.New("checker.rate_per_sec must be >= 0"))
	}
	for path, raw := range map[string]string{
		"telegram.request_timeout":     cfg.Telegram.RequestTimeout,
		"checker.retry_base":           cfg.Checker.RetryBase,
		"checker.request_timeout":      cfg.Checker.RequestTimeout,
		"dispatch.base_delay":          cfg.Dispatch.BaseDelay,
		"dispatch.rate_limit_margin":   cfg.Dispatch.RateLimitMargin,
		"dispatch.call_timeout":        cfg.Dispatch.CallTimeout,
		"storage.busy_timeout":         cfg.Storage.BusyTimeout,
		"storage.retention":            cfg.Storage.Retention,
		"sites.postgres.connect_delay": cfg.Sites.Postgres.ConnectDelay,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if tz := strings.TrimSpace(cfg.Report.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("report.timezone: invalid %q: %w", tz, err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}
	return errors.Join(errs...)
}
