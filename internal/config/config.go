// Package config holds the typed pipeline configuration, parsed once at
// startup. Unknown keys in the config file are a startup error.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// CaptureConfig controls the live packet sniffer.
type CaptureConfig struct {
	Enabled     bool   `json:"enabled"`
	Port        int    `json:"port"`      // TCP port carrying game traffic
	Interface   string `json:"interface"` // empty = auto-select
	SnapLen     int    `json:"snap_len"`
	TimeoutMs   int    `json:"timeout_ms"`
	Promiscuous bool   `json:"promiscuous"`
}

// QueueConfig controls the bounded packet queue between capture and consumer.
type QueueConfig struct {
	Capacity       int `json:"capacity"`
	OfferTimeoutMs int `json:"offer_timeout_ms"`
}

// BreakerConfig controls the consumer's circuit breaker.
type BreakerConfig struct {
	Threshold  int `json:"threshold"`
	CooldownMs int `json:"cooldown_ms"`
}

// ConsumerConfig controls queue polling and batching.
type ConsumerConfig struct {
	BatchSize     int           `json:"batch_size"`
	PollTimeoutMs int           `json:"poll_timeout_ms"`
	Breaker       BreakerConfig `json:"breaker"`
}

// ProcessingConfig controls the scheduled consumption loop.
type ProcessingConfig struct {
	Enabled            bool `json:"enabled"`
	IntervalMs         int  `json:"interval_ms"`
	BatchMode          bool `json:"batch_mode"`
	QueueWarnThreshold int  `json:"queue_warn_threshold"`
}

// CacheSpec configures one named cache.
type CacheSpec struct {
	TTLSeconds int `json:"ttl_seconds"`
	MaxSize    int `json:"max_size"`
}

// CacheConfig configures the three pipeline caches.
type CacheConfig struct {
	Items           CacheSpec `json:"items"`
	ItemsWithPrices CacheSpec `json:"items_with_prices"`
	LatestPrices    CacheSpec `json:"latest_prices"`
}

// ProtocolConfig carries the message-ID dispatch table and parser limits.
// The numeric IDs ship as configuration because they track the game
// client's protocol build and may need adjustment between game updates.
type ProtocolConfig struct {
	PriceListID           int `json:"price_list_id"`
	CategoryDescriptionID int `json:"category_description_id"`
	CompressedContainerID int `json:"compressed_container_id"`
	MaxInflateRatio       int `json:"max_inflate_ratio"` // decompression bomb cap
}

// StoreConfig controls persistence behaviour outside the schema itself.
type StoreConfig struct {
	Path             string `json:"path"`               // SQLite file; empty = ./hdv.db
	DedupWindowMin   int    `json:"dedup_window_min"`   // near-duplicate suppression window
	RetentionDays    int    `json:"retention_days"`     // 0 = keep forever
	HealthListenAddr string `json:"health_listen_addr"` // health + metrics HTTP listener
}

// Config is the full pipeline configuration.
type Config struct {
	Capture    CaptureConfig    `json:"capture"`
	Queue      QueueConfig      `json:"queue"`
	Consumer   ConsumerConfig   `json:"consumer"`
	Processing ProcessingConfig `json:"processing"`
	Cache      CacheConfig      `json:"cache"`
	Protocol   ProtocolConfig   `json:"protocol"`
	Store      StoreConfig      `json:"store"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Enabled:     true,
			Port:        5555,
			SnapLen:     65536,
			TimeoutMs:   1000,
			Promiscuous: false,
		},
		Queue: QueueConfig{
			Capacity:       1000,
			OfferTimeoutMs: 100,
		},
		Consumer: ConsumerConfig{
			BatchSize:     50,
			PollTimeoutMs: 1000,
			Breaker: BreakerConfig{
				Threshold:  5,
				CooldownMs: 60_000,
			},
		},
		Processing: ProcessingConfig{
			Enabled:            true,
			IntervalMs:         1000,
			BatchMode:          true,
			QueueWarnThreshold: 500,
		},
		Cache: CacheConfig{
			Items:           CacheSpec{TTLSeconds: 7200, MaxSize: 10_000},
			ItemsWithPrices: CacheSpec{TTLSeconds: 3600, MaxSize: 2_000},
			LatestPrices:    CacheSpec{TTLSeconds: 300, MaxSize: 30_000},
		},
		Protocol: ProtocolConfig{
			// Placeholder IDs pending verification against the current
			// protocol build; override in the config file when they drift.
			PriceListID:           5765,
			CategoryDescriptionID: 5752,
			CompressedContainerID: 2,
			MaxInflateRatio:       64,
		},
		Store: StoreConfig{
			DedupWindowMin:   10,
			RetentionDays:    90,
			HealthListenAddr: "127.0.0.1:13380",
		},
	}
}

// Load reads a JSON config file over the defaults. Unknown keys fail.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the documented ranges on every tunable.
func (c *Config) Validate() error {
	if c.Capture.Port < 1 || c.Capture.Port > 65535 {
		return fmt.Errorf("capture.port %d out of range 1-65535", c.Capture.Port)
	}
	if c.Capture.SnapLen < 1500 {
		return fmt.Errorf("capture.snap_len %d below minimum 1500", c.Capture.SnapLen)
	}
	if c.Capture.TimeoutMs < 100 || c.Capture.TimeoutMs > 10_000 {
		return fmt.Errorf("capture.timeout_ms %d out of range 100-10000", c.Capture.TimeoutMs)
	}
	if c.Queue.Capacity < 10 || c.Queue.Capacity > 100_000 {
		return fmt.Errorf("queue.capacity %d out of range 10-100000", c.Queue.Capacity)
	}
	if c.Queue.OfferTimeoutMs < 10 || c.Queue.OfferTimeoutMs > 5_000 {
		return fmt.Errorf("queue.offer_timeout_ms %d out of range 10-5000", c.Queue.OfferTimeoutMs)
	}
	if c.Consumer.BatchSize < 1 {
		return fmt.Errorf("consumer.batch_size %d must be >= 1", c.Consumer.BatchSize)
	}
	if c.Consumer.PollTimeoutMs < 1 {
		return fmt.Errorf("consumer.poll_timeout_ms %d must be >= 1", c.Consumer.PollTimeoutMs)
	}
	if c.Consumer.Breaker.Threshold < 1 {
		return fmt.Errorf("consumer.breaker.threshold %d must be >= 1", c.Consumer.Breaker.Threshold)
	}
	if c.Consumer.Breaker.CooldownMs < 1 {
		return fmt.Errorf("consumer.breaker.cooldown_ms %d must be >= 1", c.Consumer.Breaker.CooldownMs)
	}
	if c.Processing.IntervalMs < 1 {
		return fmt.Errorf("processing.interval_ms %d must be >= 1", c.Processing.IntervalMs)
	}
	if c.Processing.QueueWarnThreshold < 0 {
		return fmt.Errorf("processing.queue_warn_threshold %d must be >= 0", c.Processing.QueueWarnThreshold)
	}
	for name, spec := range map[string]CacheSpec{
		"items":             c.Cache.Items,
		"items_with_prices": c.Cache.ItemsWithPrices,
		"latest_prices":     c.Cache.LatestPrices,
	} {
		if spec.TTLSeconds < 1 {
			return fmt.Errorf("cache.%s.ttl_seconds %d must be >= 1", name, spec.TTLSeconds)
		}
		if spec.MaxSize < 1 {
			return fmt.Errorf("cache.%s.max_size %d must be >= 1", name, spec.MaxSize)
		}
	}
	if c.Protocol.PriceListID <= 0 || c.Protocol.CategoryDescriptionID <= 0 || c.Protocol.CompressedContainerID <= 0 {
		return fmt.Errorf("protocol message IDs must be positive")
	}
	if c.Protocol.MaxInflateRatio < 1 {
		return fmt.Errorf("protocol.max_inflate_ratio %d must be >= 1", c.Protocol.MaxInflateRatio)
	}
	if c.Store.DedupWindowMin < 0 {
		return fmt.Errorf("store.dedup_window_min %d must be >= 0", c.Store.DedupWindowMin)
	}
	return nil
}
