package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Query strategies for exhaustive history queries.
const (
	StrategySequential = "sequential"
	StrategySegmented  = "segmented"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// IndexPartition is the partition value under which all time-index
	// entries are written. It is a constant per deployment, not a hardcoded
	// literal, so operators can segment deployments sharing a store.
	IndexPartition string `json:"indexPartition" toml:"indexPartition"`

	// TokenSecret keys the HMAC over continuation tokens. When empty, a
	// random per-process secret is generated at startup, which invalidates
	// outstanding tokens across restarts.
	TokenSecret string `json:"tokenSecret" toml:"tokenSecret"`

	History   HistoryConfig   `json:"history" toml:"history"`
	Broadcast BroadcastConfig `json:"broadcast" toml:"broadcast"`
	Registry  RegistryConfig  `json:"registry" toml:"registry"`
	Retention RetentionConfig `json:"retention" toml:"retention"`
}

// HistoryConfig bounds the paginated history query engine.
type HistoryConfig struct {
	// DefaultLimit applies when a request omits limit.
	DefaultLimit int `json:"defaultLimit" toml:"defaultLimit"`
	// MaxLimit caps the per-page event count regardless of the request.
	MaxLimit int `json:"maxLimit" toml:"maxLimit"`
	// DefaultWindowHours applies when a request omits hours.
	DefaultWindowHours int `json:"defaultWindowHours" toml:"defaultWindowHours"`
	// MaxWindowHours caps the lookback window.
	MaxWindowHours int `json:"maxWindowHours" toml:"maxWindowHours"`
	// StorePageItems is the hard per-request item cap the store enforces on
	// a single range scan, independent of the caller's limit.
	StorePageItems int `json:"storePageItems" toml:"storePageItems"`
	// ExhaustiveMaxScan is the absolute ceiling of raw store items one
	// exhaustive query may visit before returning a resumable token.
	ExhaustiveMaxScan int `json:"exhaustiveMaxScan" toml:"exhaustiveMaxScan"`
	// Strategy selects sequential or segmented internal pagination for
	// exhaustive queries.
	Strategy string `json:"strategy" toml:"strategy"`
	// Segments is the number of disjoint time sub-ranges scanned in
	// parallel when Strategy is segmented.
	Segments int `json:"segments" toml:"segments"`
}

// BroadcastConfig bounds fan-out concurrency and per-delivery time.
type BroadcastConfig struct {
	MaxConcurrency    int `json:"maxConcurrency" toml:"maxConcurrency"`
	DeliveryTimeoutMs int `json:"deliveryTimeoutMs" toml:"deliveryTimeoutMs"`
}

// RegistryConfig controls connection lease behavior.
type RegistryConfig struct {
	// LeaseTTLMinutes is how long a registration stays live absent an
	// explicit disconnect.
	LeaseTTLMinutes int `json:"leaseTtlMinutes" toml:"leaseTtlMinutes"`
}

// RetentionConfig controls event expiry and the background reaper.
type RetentionConfig struct {
	EventTTLDays        int `json:"eventTtlDays" toml:"eventTtlDays"`
	ReapIntervalSeconds int `json:"reapIntervalSeconds" toml:"reapIntervalSeconds"`
	ReapBatch           int `json:"reapBatch" toml:"reapBatch"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		IndexPartition: "ALL",
		History: HistoryConfig{
			DefaultLimit:       50,
			MaxLimit:           100,
			DefaultWindowHours: 24,
			MaxWindowHours:     168,
			StorePageItems:     100,
			ExhaustiveMaxScan:  1000,
			Strategy:           StrategySequential,
			Segments:           4,
		},
		Broadcast: BroadcastConfig{
			MaxConcurrency:    16,
			DeliveryTimeoutMs: 5000,
		},
		Registry: RegistryConfig{
			LeaseTTLMinutes: 120,
		},
		Retention: RetentionConfig{
			EventTTLDays:        30,
			ReapIntervalSeconds: 60,
			ReapBatch:           512,
		},
	}
}

// Load reads configuration from a JSON or TOML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	case ".json", "":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.History.Strategy {
	case StrategySequential, StrategySegmented:
	default:
		return fmt.Errorf("config: unknown history strategy %q", c.History.Strategy)
	}
	if c.History.MaxLimit <= 0 || c.History.StorePageItems <= 0 {
		return fmt.Errorf("config: history limits must be positive")
	}
	if c.History.Segments <= 0 {
		return fmt.Errorf("config: history segments must be positive")
	}
	return nil
}
