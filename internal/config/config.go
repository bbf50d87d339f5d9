// Package config loads and holds the engine's static configuration:
// platform credentials, logging, store/cache connection settings, and the
// tunable constants for rate limiting, retention, and the paywall. Mutable
// runtime state (the global pause flag, per-chat flags) lives in the
// durable/fast stores, not here — see internal/store.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type (
	Config struct {
		Platform  PlatformConfig  `yaml:"platform"`
		Logging   LoggingConfig   `yaml:"logging"`
		Store     StoreConfig     `yaml:"store"`
		Cache     CacheConfig     `yaml:"cache"`
		RateLimit RateLimitConfig `yaml:"rate_limit"`
		Retention RetentionConfig `yaml:"retention"`
		Paywall   PaywallConfig   `yaml:"paywall"`
		Worker    WorkerConfig    `yaml:"worker"`
		Alias     AliasConfig     `yaml:"alias"`
	}

	// PlatformConfig holds the credentials and polling behavior for the
	// platform client adapter (see internal/platform/telegram).
	PlatformConfig struct {
		Token       string `yaml:"token"`
		WebhookURL  string `yaml:"webhook_url"`
		WebhookPort int    `yaml:"webhook_port"`
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
	}

	// StoreConfig configures the durable store (PostgreSQL).
	StoreConfig struct {
		DSN             string `yaml:"dsn"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	}

	// CacheConfig configures the fast store (Redis). When Addr is empty the
	// engine falls back to an in-process cache, suitable for single-process
	// deployments and tests (see internal/store/rediscache.MemoryCache).
	CacheConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	RateLimitConfig struct {
		GlobalPerSecond int `yaml:"global_per_second"` // default 25
		WorkerCount     int `yaml:"worker_count"`       // default 10
		QueueSize       int `yaml:"queue_size"`         // bounded SendTask backlog
	}

	RetentionConfig struct {
		Interval  string `yaml:"interval"`   // cron schedule, default hourly
		BatchSize int    `yaml:"batch_size"` // bounded delete batch size
	}

	PaywallConfig struct {
		NudgeCooldown string `yaml:"nudge_cooldown"` // default 24h
		NudgeTemplate string `yaml:"nudge_template"`
	}

	WorkerConfig struct {
		ShutdownGrace string `yaml:"shutdown_grace"` // default 30s
	}

	// AliasConfig configures the Alias Service's deterministic token
	// derivation (see internal/alias).
	AliasConfig struct {
		Salt string `yaml:"salt"`
	}
)

// Validate fills in defaults and rejects an unusable configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Platform.Token) == "" {
		return fmt.Errorf("platform.token is required")
	}

	if c.RateLimit.GlobalPerSecond <= 0 {
		c.RateLimit.GlobalPerSecond = 25
	}
	if c.RateLimit.WorkerCount <= 0 {
		c.RateLimit.WorkerCount = 10
	}
	if c.RateLimit.QueueSize <= 0 {
		c.RateLimit.QueueSize = 1000
	}

	if c.Retention.Interval == "" {
		c.Retention.Interval = "0 * * * *" // hourly
	}
	if c.Retention.BatchSize <= 0 {
		c.Retention.BatchSize = 500
	}

	if c.Paywall.NudgeCooldown == "" {
		c.Paywall.NudgeCooldown = "24h"
	}
	if _, err := time.ParseDuration(c.Paywall.NudgeCooldown); err != nil {
		return fmt.Errorf("paywall.nudge_cooldown: %w", err)
	}

	if c.Worker.ShutdownGrace == "" {
		c.Worker.ShutdownGrace = "30s"
	}
	if _, err := time.ParseDuration(c.Worker.ShutdownGrace); err != nil {
		return fmt.Errorf("worker.shutdown_grace: %w", err)
	}

	if c.Store.MaxOpenConns <= 0 {
		c.Store.MaxOpenConns = 25
	}
	if c.Store.MaxIdleConns <= 0 {
		c.Store.MaxIdleConns = 10
	}
	if c.Store.ConnMaxLifetime == "" {
		c.Store.ConnMaxLifetime = "5m"
	}

	if strings.TrimSpace(c.Alias.Salt) == "" {
		return fmt.Errorf("alias.salt is required")
	}

	return nil
}

// UpdateByName replaces one top-level section of the config by name. Used
// by the CLI's config-reload path; always followed by Validate.
func (c *Config) UpdateByName(name string, value any) error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "platform":
		typed, ok := value.(*PlatformConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'platform' requires *PlatformConfig")
		}
		c.Platform = *typed
	case "rate_limit":
		typed, ok := value.(*RateLimitConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'rate_limit' requires *RateLimitConfig")
		}
		c.RateLimit = *typed
	case "retention":
		typed, ok := value.(*RetentionConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'retention' requires *RetentionConfig")
		}
		c.Retention = *typed
	case "paywall":
		typed, ok := value.(*PaywallConfig)
		if !ok || typed == nil {
			return fmt.Errorf("name 'paywall' requires *PaywallConfig")
		}
		c.Paywall = *typed
	default:
		return fmt.Errorf("unsupported config name: %s", name)
	}

	return nil
}

// Clone returns a deep copy via JSON round-trip.
func (c *Config) Clone() (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("config is nil")
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var cloned Config
	if err := json.Unmarshal(raw, &cloned); err != nil {
		return nil, fmt.Errorf("unmarshal config clone: %w", err)
	}

	return &cloned, nil
}

// Hash returns a content hash used for optimistic-concurrency config writes.
func (c *Config) Hash() string {
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
