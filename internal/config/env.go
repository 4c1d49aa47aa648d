package config

import (
	"os"
	"strings"
)

// Environment variables that override file values. Secrets usually live here.
const (
	EnvTelegramToken = "TICKETWATCH_TELEGRAM_TOKEN"
	EnvPostgresDSN   = "TICKETWATCH_PG_DSN"
	EnvDomain        = "TICKETWATCH_DOMAIN"
)

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvTelegramToken, &cfg.Telegram.Token)
	set(EnvPostgresDSN, &cfg.Sites.Postgres.DSN)
	set(EnvDomain, &cfg.Checker.Domain)
}
