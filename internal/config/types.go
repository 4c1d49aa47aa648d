package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "2m"). Empty means default.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Checker  CheckerConfig  `json:"checker"`
	Alerts   AlertsConfig   `json:"alerts"`
	Report   ReportConfig   `json:"report"`
	Dispatch DispatchConfig `json:"dispatch"`
	Storage  StorageConfig  `json:"storage"`
	Sites    SitesConfig    `json:"sites"`
	HTTP     HTTPConfig     `json:"http"`
	Tracing  TracingConfig  `json:"tracing"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// InfoChatID receives the status report, AlertChatID one-off alerts and
	// LogChatID forwarded log lines.
	InfoChatID     int64  `json:"info_chat_id"`
	AlertChatID    int64  `json:"alert_chat_id"`
	LogChatID      int64  `json:"log_chat_id"`
	RequestTimeout string `json:"request_timeout"`
	// Offline skips the getMe call on startup.
	Offline bool   `json:"offline,omitempty"`
	URL     string `json:"url,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// CheckerConfig controls polling of the ticket-check endpoint.
//
// Either base_url or domain must be set; domain expands to
// http://<domain>/react_api/v1/check_ticket_availability.
type CheckerConfig struct {
	BaseURL        string  `json:"base_url,omitempty"`
	Domain         string  `json:"domain,omitempty"`
	Schedule       string  `json:"schedule"`
	Concurrency    int     `json:"concurrency,omitempty"`
	RetryLimit     int     `json:"retry_limit,omitempty"`
	RetryBase      string  `json:"retry_base,omitempty"`
	RequestTimeout string  `json:"request_timeout,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	UserAgent      string  `json:"user_agent,omitempty"`
}

type AlertsConfig struct {
	DropThreshold float64 `json:"drop_threshold,omitempty"`
	HistoryWindow int     `json:"history_window,omitempty"`
}

type ReportConfig struct {
	MaxPartLen int    `json:"max_part_len,omitempty"`
	Header     string `json:"header,omitempty"`
	TimeLayout string `json:"time_layout,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	// IncludeAlerts appends alert paragraphs to the status report. Defaults to true.
	IncludeAlerts     *bool `json:"include_alerts,omitempty"`
	DeleteRecentLimit int   `json:"delete_recent_limit,omitempty"`
}

type DispatchConfig struct {
	BaseDelay           string `json:"base_delay,omitempty"`
	RateLimitMargin     string `json:"rate_limit_margin,omitempty"`
	MaxAttempts         int    `json:"max_attempts,omitempty"`
	MaxRateLimitRetries int    `json:"max_rate_limit_retries,omitempty"`
	QueueSize           int    `json:"queue_size,omitempty"`
	CallTimeout         string `json:"call_timeout,omitempty"`
}

// StorageConfig selects the history/ledger backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/ticketwatch.db" }
type StorageConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path"`
	BusyTimeout string      `json:"busy_timeout,omitempty"`
	Retention   string      `json:"retention,omitempty"`
	KeepPerSite int         `json:"keep_per_site,omitempty"`
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

// SitesConfig picks the site list source. Postgres wins when its DSN is set,
// otherwise the static list is used.
type SitesConfig struct {
	Static     []string       `json:"static,omitempty"`
	Postgres   PostgresConfig `json:"postgres,omitempty"`
	BackupFile string         `json:"backup_file,omitempty"`
}

type PostgresConfig struct {
	DSN             string `json:"dsn,omitempty"`
	Table           string `json:"table,omitempty"`
	ConnectAttempts int    `json:"connect_attempts,omitempty"`
	ConnectDelay    string `json:"connect_delay,omitempty"`
}

// HTTPConfig controls the metrics/health server.
//
// Binding to a non-loopback address requires token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

type TracingConfig struct {
	Mode        string  `json:"mode,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"`
}
