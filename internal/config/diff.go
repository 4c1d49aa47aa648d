package config

import (
	"reflect"
	"strings"

	logx "ticketwatch/pkg/logx"
)

// hotSections are applied without a restart.
var hotSections = map[string]bool{"logging": true, "alerts": true}

// Change describes the difference between two configs.
type Change struct {
	Sections []string
	// Attrs are safe to log: secrets are reported as set/unset only.
	Attrs []logx.Field
	// NeedsRestart lists changed sections that only take effect after a restart.
	NeedsRestart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, changed bool, attrs ...logx.Field) {
		if !changed {
			return
		}
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if !hotSections[section] {
			ch.NeedsRestart = append(ch.NeedsRestart, section)
		}
	}

	o, n := oldCfg.Telegram, newCfg.Telegram
	mark("telegram", o.Token != n.Token || o.InfoChatID != n.InfoChatID || o.AlertChatID != n.AlertChatID ||
		o.LogChatID != n.LogChatID || o.RequestTimeout != n.RequestTimeout || o.Offline != n.Offline || o.URL != n.URL,
		logx.Bool("telegram.token_changed", o.Token != n.Token),
		logx.Int64("telegram.info_chat_id", n.InfoChatID),
		logx.Int64("telegram.alert_chat_id", n.AlertChatID),
	)
	mark("logging", oldCfg.Logging != newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
	)
	mark("checker", oldCfg.Checker != newCfg.Checker,
		logx.String("checker.schedule", strings.TrimSpace(newCfg.Checker.Schedule)),
		logx.Int("checker.concurrency", newCfg.Checker.Concurrency),
	)
	mark("alerts", oldCfg.Alerts != newCfg.Alerts,
		logx.Float64("alerts.drop_threshold", newCfg.Alerts.DropThreshold),
		logx.Int("alerts.history_window", newCfg.Alerts.HistoryWindow),
	)
	mark("report", !reflect.DeepEqual(oldCfg.Report, newCfg.Report))
	mark("dispatch", oldCfg.Dispatch != newCfg.Dispatch)
	mark("storage", oldCfg.Storage != newCfg.Storage, logx.String("storage.driver", newCfg.Storage.Driver))
	mark("sites", !reflect.DeepEqual(oldCfg.Sites, newCfg.Sites),
		logx.Int("sites.static", len(newCfg.Sites.Static)),
		logx.Bool("sites.postgres_set", strings.TrimSpace(newCfg.Sites.Postgres.DSN) != ""),
	)
	mark("http", oldCfg.HTTP != newCfg.HTTP,
		logx.Bool("http.enabled", newCfg.HTTP.Enabled),
		logx.String("http.addr", newCfg.HTTP.Addr),
		logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
	)
	mark("tracing", oldCfg.Tracing != newCfg.Tracing, logx.String("tracing.mode", newCfg.Tracing.Mode))
	return ch
}
