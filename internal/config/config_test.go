package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJSON = `{
  "telegram": {"token": "file-token", "info_chat_id": -100, "alert_chat_id": -200},
  "logging": {"level": "info", "console": true},
  "checker": {"domain": "tickets.example", "schedule": "20s", "retry_base": "1s"},
  "alerts": {"drop_threshold": 10},
  "storage": {"driver": "file", "path": "./data/state.json"},
  "sites": {"static": ["a", "b"]}
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func noEnv(string) (string, bool) { return "", false }

func TestParseJSONAndYAML(t *testing.T) {
	t.Parallel()

	yamlBody := `
telegram:
  token: file-token
  info_chat_id: -100
checker:
  base_url: http://localhost/check
  schedule: "*/5 * * * *"
sites:
  static: [x]
`
	for _, tc := range []struct{ name, body string }{
		{"config.json", validJSON},
		{"config.yaml", yamlBody},
	} {
		m := NewConfigManager(writeFile(t, tc.name, tc.body))
		m.lookup = noEnv
		cfg, err := m.Load()
		if err != nil {
			t.Fatalf("%s: Load: %v", tc.name, err)
		}
		if cfg.Telegram.Token != "file-token" || cfg.Telegram.InfoChatID != -100 {
			t.Fatalf("%s: telegram = %+v", tc.name, cfg.Telegram)
		}
		if err := Validate(cfg); err != nil {
			t.Fatalf("%s: Validate: %v", tc.name, err)
		}
		if m.Get() != cfg {
			t.Fatalf("%s: Get did not return committed config", tc.name)
		}
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	for name, body := range map[string]string{
		"unknown.json":  `{"telegram": {"token": "x"}, "plugins": {}}`,
		"trailing.json": `{} {}`,
		"unknown.yaml":  "checker:\n  workers: 3\n",
	} {
		m := NewConfigManager(writeFile(t, name, body))
		if _, err := m.Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "c.json", validJSON))
	env := map[string]string{
		EnvTelegramToken: "env-token",
		EnvPostgresDSN:   "postgres://u@h/db",
		EnvDomain:        "  ",
	}
	m.lookup = func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Sites.Postgres.DSN != "postgres://u@h/db" {
		t.Fatalf("dsn = %q", cfg.Sites.Postgres.DSN)
	}
	if cfg.Checker.Domain != "tickets.example" {
		t.Fatalf("blank env must not override domain, got %q", cfg.Checker.Domain)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected error for empty config")
	}
	for _, want := range []string{"telegram.token", "telegram.info_chat_id", "checker.base_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}

	cfg = &Config{
		Telegram: TelegramConfig{Token: "t", InfoChatID: 1},
		Checker:  CheckerConfig{BaseURL: "http://x", RetryBase: "soon", Concurrency: -1},
		Storage:  StorageConfig{Driver: "mongo"},
	}
	err = Validate(cfg)
	for _, want := range []string{"checker.retry_base", "checker.concurrency", "storage.driver"} {
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("error %v does not mention %s", err, want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "250ms", time.Second); err != nil || d != 250*time.Millisecond {
		t.Fatalf("250ms = %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-1s", time.Second); err == nil {
		t.Fatalf("negative duration accepted")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	old := &Config{Logging: LoggingConfig{Level: "info"}, Alerts: AlertsConfig{DropThreshold: 10}}
	next := *old
	next.Logging.Level = "debug"
	next.Alerts.DropThreshold = 20
	next.Storage.Driver = "sqlite"

	ch := SummarizeChange(old, &next)
	if strings.Join(ch.Sections, ",") != "logging,alerts,storage" {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if strings.Join(ch.NeedsRestart, ",") != "storage" {
		t.Fatalf("needs restart = %v", ch.NeedsRestart)
	}
	if !SummarizeChange(old, old).Empty() {
		t.Fatalf("identical configs reported a change")
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "c.json", validJSON)
	m := NewConfigManager(path)
	m.lookup = noEnv
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	updated := strings.Replace(validJSON, `"drop_threshold": 10`, `"drop_threshold": 25`, 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Alerts.DropThreshold != 25 {
				t.Fatalf("drop_threshold = %v", cfg.Alerts.DropThreshold)
			}
			return
		case <-tick.C:
			// Rewrite until the watcher is up and sees the change.
			if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatalf("no reload published")
		}
	}
}
