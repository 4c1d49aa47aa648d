package app

import (
	"context"
	"strings"
	"testing"

	"ticketwatch/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t", InfoChatID: -1},
		Checker:  config.CheckerConfig{Domain: "tickets.example"},
	}
}

func TestMapFetcherConfigDomain(t *testing.T) {
	t.Parallel()
	fc, err := mapFetcherConfig(baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	if fc.BaseURL != "http://tickets.example/react_api/v1/check_ticket_availability" {
		t.Fatalf("base url = %q", fc.BaseURL)
	}

	cfg := baseConfig()
	cfg.Checker.BaseURL = "https://api.example/check"
	if fc, _ := mapFetcherConfig(cfg); fc.BaseURL != "https://api.example/check" {
		t.Fatalf("explicit base url ignored: %q", fc.BaseURL)
	}

	cfg.Checker.RetryBase = "soon"
	if _, err := mapFetcherConfig(cfg); err == nil {
		t.Fatal("expected a duration error")
	}
}

func TestMapLogConfigChat(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Logging.Telegram.Enabled = true
	if mapLogConfig(cfg).Chat.Enabled {
		t.Fatal("chat sink needs log_chat_id")
	}
	cfg.Telegram.LogChatID = -300
	lc := mapLogConfig(cfg)
	if !lc.Chat.Enabled || lc.Chat.ChatID != -300 {
		t.Fatalf("chat = %+v", lc.Chat)
	}
}

func TestMapReportConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	rc, err := mapReportConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rc.OmitAlerts {
		t.Fatal("alerts are included by default")
	}
	off := false
	cfg.Report.IncludeAlerts = &off
	cfg.Report.Timezone = "UTC"
	rc, err = mapReportConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !rc.OmitAlerts || rc.Location.String() != "UTC" {
		t.Fatalf("report config = %+v", rc)
	}
	cfg.Report.Timezone = "Mars/Olympus"
	if _, err := mapReportConfig(cfg); err == nil {
		t.Fatal("expected a timezone error")
	}
}

func TestMapSchedulerConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Schedule != defaultSchedule {
		t.Fatalf("schedule = %q", sc.Schedule)
	}
	cfg.Checker.Schedule = "every:tuesday"
	if _, err := mapSchedulerConfig(cfg); err == nil || !strings.Contains(err.Error(), "checker.schedule") {
		t.Fatalf("err = %v", err)
	}
}

func TestBackupFile(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	if got := backupFile(cfg); got != defaultBackupFile {
		t.Fatalf("default = %q", got)
	}
	cfg.Storage.Path = "/var/lib/ticketwatch/state.db"
	if got := backupFile(cfg); got != "/var/lib/ticketwatch/backup_sites.json" {
		t.Fatalf("next to storage = %q", got)
	}
	cfg.Sites.BackupFile = "/tmp/sites.json"
	if got := backupFile(cfg); got != "/tmp/sites.json" {
		t.Fatalf("explicit = %q", got)
	}
}

func TestValidateConfigCollectsMappingErrors(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	if err := ValidateConfig(context.Background(), cfg); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cfg.Storage.Driver = "mongo"
	if err := ValidateConfig(context.Background(), cfg); err == nil {
		t.Fatal("expected an unknown driver error")
	}
}
