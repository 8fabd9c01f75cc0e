// Package config provides runtime tuning knobs for the sync pipeline.
package config

import (
	"os"
	"strconv"
	"time"
)

// SyncConfig holds the order-sync tuning knobs. All of them have fixed
// defaults matching production behavior; the env vars exist so a deployment
// can override them without a code change.
type SyncConfig struct {
	PageSize      int           // orders per GraphQL page, capped at 250
	MaxPages      int           // safety cap on pages per run
	PageDelay     time.Duration // fixed pause between pages
	RetryCooldown time.Duration // pause after a rate-limit response
	MaxAttempts   int           // attempts per HTTP call
	MonthlyQuota  int           // try-on generations per shop per month
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvms(key string, defMs int) time.Duration {
	ms := atoienv(key, defMs)
	return time.Duration(ms) * time.Millisecond
}

// LoadSync collects sync configuration from environment with defaults.
func LoadSync() SyncConfig {
	pageSize := atoienv("SYNC_PAGE_SIZE", 50)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 250 {
		pageSize = 250
	}
	return SyncConfig{
		PageSize:      pageSize,
		MaxPages:      atoienv("SYNC_MAX_PAGES", 20),
		PageDelay:     durenvms("SYNC_PAGE_DELAY_MS", 500),
		RetryCooldown: durenvms("SYNC_RETRY_COOLDOWN_MS", 2000),
		MaxAttempts:   atoienv("SYNC_MAX_ATTEMPTS", 3),
		MonthlyQuota:  atoienv("TRYON_MONTHLY_QUOTA", 100),
	}
}
