package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Capture.Port != 5555 {
		t.Errorf("Capture.Port = %d, want 5555", cfg.Capture.Port)
	}
	if cfg.Queue.Capacity != 1000 {
		t.Errorf("Queue.Capacity = %d, want 1000", cfg.Queue.Capacity)
	}
	if cfg.Consumer.Breaker.Threshold != 5 || cfg.Consumer.Breaker.CooldownMs != 60_000 {
		t.Errorf("breaker defaults = %+v", cfg.Consumer.Breaker)
	}
	if cfg.Protocol.MaxInflateRatio != 64 {
		t.Errorf("MaxInflateRatio = %d, want 64", cfg.Protocol.MaxInflateRatio)
	}
	if cfg.Store.DedupWindowMin != 10 {
		t.Errorf("DedupWindowMin = %d, want 10", cfg.Store.DedupWindowMin)
	}
}

func TestValidate_Ranges(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Capture.Port = 0 }, "capture.port"},
		{"port too high", func(c *Config) { c.Capture.Port = 70000 }, "capture.port"},
		{"snaplen tiny", func(c *Config) { c.Capture.SnapLen = 100 }, "snap_len"},
		{"capture timeout low", func(c *Config) { c.Capture.TimeoutMs = 50 }, "timeout_ms"},
		{"capture timeout high", func(c *Config) { c.Capture.TimeoutMs = 60_000 }, "timeout_ms"},
		{"queue too small", func(c *Config) { c.Queue.Capacity = 5 }, "queue.capacity"},
		{"queue too large", func(c *Config) { c.Queue.Capacity = 1_000_000 }, "queue.capacity"},
		{"offer timeout low", func(c *Config) { c.Queue.OfferTimeoutMs = 5 }, "offer_timeout_ms"},
		{"batch size zero", func(c *Config) { c.Consumer.BatchSize = 0 }, "batch_size"},
		{"poll timeout zero", func(c *Config) { c.Consumer.PollTimeoutMs = 0 }, "poll_timeout_ms"},
		{"threshold zero", func(c *Config) { c.Consumer.Breaker.Threshold = 0 }, "threshold"},
		{"cooldown zero", func(c *Config) { c.Consumer.Breaker.CooldownMs = 0 }, "cooldown_ms"},
		{"interval zero", func(c *Config) { c.Processing.IntervalMs = 0 }, "interval_ms"},
		{"warn threshold negative", func(c *Config) { c.Processing.QueueWarnThreshold = -1 }, "queue_warn_threshold"},
		{"cache ttl zero", func(c *Config) { c.Cache.Items.TTLSeconds = 0 }, "ttl_seconds"},
		{"cache size zero", func(c *Config) { c.Cache.LatestPrices.MaxSize = 0 }, "max_size"},
		{"message id zero", func(c *Config) { c.Protocol.PriceListID = 0 }, "message IDs"},
		{"ratio zero", func(c *Config) { c.Protocol.MaxInflateRatio = 0 }, "max_inflate_ratio"},
		{"dedup negative", func(c *Config) { c.Store.DedupWindowMin = -1 }, "dedup_window_min"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an out-of-range value")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"capture": {"enabled": false, "port": 443, "snap_len": 2000, "timeout_ms": 500},
		"queue": {"capacity": 250, "offer_timeout_ms": 50},
		"protocol": {"price_list_id": 9999}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capture.Enabled || cfg.Capture.Port != 443 {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.Queue.Capacity != 250 {
		t.Errorf("Queue.Capacity = %d, want 250", cfg.Queue.Capacity)
	}
	if cfg.Protocol.PriceListID != 9999 {
		t.Errorf("PriceListID = %d, want 9999", cfg.Protocol.PriceListID)
	}
	// Untouched sections keep their defaults.
	if cfg.Consumer.BatchSize != 50 {
		t.Errorf("Consumer.BatchSize = %d, want default 50", cfg.Consumer.BatchSize)
	}
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	path := writeConfig(t, `{"capture": {"porte": 5555}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted an unknown key")
	}
}

func TestLoad_InvalidValueFails(t *testing.T) {
	path := writeConfig(t, `{"queue": {"capacity": 1}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted an out-of-range value")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("Load of a missing file should fail")
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"queue": `)
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted malformed JSON")
	}
}
