package config

import (
	"os"
	"strconv"
)

// FromEnv overlays SHOP_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("SHOP_INDEX_PARTITION"); v != "" {
		cfg.IndexPartition = v
	}
	if v := os.Getenv("SHOP_TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}
	setInt(&cfg.History.DefaultLimit, "SHOP_HISTORY_DEFAULT_LIMIT")
	setInt(&cfg.History.MaxLimit, "SHOP_HISTORY_MAX_LIMIT")
	setInt(&cfg.History.DefaultWindowHours, "SHOP_HISTORY_DEFAULT_WINDOW_HOURS")
	setInt(&cfg.History.MaxWindowHours, "SHOP_HISTORY_MAX_WINDOW_HOURS")
	setInt(&cfg.History.StorePageItems, "SHOP_HISTORY_STORE_PAGE_ITEMS")
	setInt(&cfg.History.ExhaustiveMaxScan, "SHOP_HISTORY_EXHAUSTIVE_MAX_SCAN")
	if v := os.Getenv("SHOP_HISTORY_STRATEGY"); v != "" {
		cfg.History.Strategy = v
	}
	setInt(&cfg.History.Segments, "SHOP_HISTORY_SEGMENTS")
	setInt(&cfg.Broadcast.MaxConcurrency, "SHOP_BROADCAST_MAX_CONCURRENCY")
	setInt(&cfg.Broadcast.DeliveryTimeoutMs, "SHOP_BROADCAST_DELIVERY_TIMEOUT_MS")
	setInt(&cfg.Registry.LeaseTTLMinutes, "SHOP_REGISTRY_LEASE_TTL_MINUTES")
	setInt(&cfg.Retention.EventTTLDays, "SHOP_RETENTION_EVENT_TTL_DAYS")
	setInt(&cfg.Retention.ReapIntervalSeconds, "SHOP_RETENTION_REAP_INTERVAL_SECONDS")
	setInt(&cfg.Retention.ReapBatch, "SHOP_RETENTION_REAP_BATCH")
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
