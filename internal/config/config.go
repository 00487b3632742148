// Package config holds the cache configuration: a structured document
// (JSON) with documented defaults and the cross-field invariants the
// cache façade validates at load time.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Config is the full configuration schema.
type Config struct {
	CacheEnabled bool `json:"cache_enabled"`

	MaxEntries   int   `json:"max_entries"`
	MaxLiveBytes int64 `json:"max_live_bytes,omitempty"` // 0 means "no byte cap"

	IdleThresholdSeconds           int `json:"idle_threshold_seconds"`
	IdleScanIntervalSeconds        int `json:"idle_scan_interval_seconds"`
	DeferredCleanupIntervalSeconds int `json:"deferred_cleanup_interval_seconds"`

	EvictionProtectionMs int `json:"eviction_protection_ms"`
	LRUBatchSize         int `json:"lru_batch_size"`

	MaxActivePatterns    int64 `json:"max_active_patterns"`
	MaxMatchersPerPattern int64 `json:"max_matchers_per_pattern"`

	ValidateCachedHandles bool `json:"validate_cached_handles"`

	ForcedDeferredDeadlineSeconds int `json:"forced_deferred_deadline_seconds"`
}

// Default returns the configuration schema's documented defaults.
func Default() Config {
	return Config{
		CacheEnabled:                   true,
		MaxEntries:                     50_000,
		MaxLiveBytes:                   0,
		IdleThresholdSeconds:           300,
		IdleScanIntervalSeconds:        60,
		DeferredCleanupIntervalSeconds: 5,
		EvictionProtectionMs:           1000,
		LRUBatchSize:                   100,
		MaxActivePatterns:              100_000,
		MaxMatchersPerPattern:          10_000,
		ValidateCachedHandles:          true,
		ForcedDeferredDeadlineSeconds:  600,
	}
}

// ParseJSON decodes a JSON document over the defaults (unset fields keep
// their default value) and validates the result.
func ParseJSON(data []byte) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces every configuration invariant: all positive,
// deferred_cleanup_interval <= idle_scan_interval <= idle_threshold, and
// max_entries <= max_active_patterns. Every violation is reported
// together via errors.Join rather than stopping at the first one, so a
// caller fixing a config file sees the whole list in one pass.
func (c Config) Validate() error {
	var errs []error

	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("config: %s must be positive, got %d", name, v))
		}
	}
	positive("max_entries", c.MaxEntries)
	positive("idle_threshold_seconds", c.IdleThresholdSeconds)
	positive("idle_scan_interval_seconds", c.IdleScanIntervalSeconds)
	positive("deferred_cleanup_interval_seconds", c.DeferredCleanupIntervalSeconds)
	positive("eviction_protection_ms", c.EvictionProtectionMs)
	positive("lru_batch_size", c.LRUBatchSize)
	positive("forced_deferred_deadline_seconds", c.ForcedDeferredDeadlineSeconds)
	if c.MaxActivePatterns <= 0 {
		errs = append(errs, errors.New("config: max_active_patterns must be positive"))
	}
	if c.MaxMatchersPerPattern <= 0 {
		errs = append(errs, errors.New("config: max_matchers_per_pattern must be positive"))
	}
	if c.MaxLiveBytes < 0 {
		errs = append(errs, errors.New("config: max_live_bytes must not be negative"))
	}

	if c.DeferredCleanupIntervalSeconds > c.IdleScanIntervalSeconds {
		errs = append(errs, fmt.Errorf("config: deferred_cleanup_interval_seconds (%d) must be <= idle_scan_interval_seconds (%d)",
			c.DeferredCleanupIntervalSeconds, c.IdleScanIntervalSeconds))
	}
	if c.IdleScanIntervalSeconds > c.IdleThresholdSeconds {
		errs = append(errs, fmt.Errorf("config: idle_scan_interval_seconds (%d) must be <= idle_threshold_seconds (%d)",
			c.IdleScanIntervalSeconds, c.IdleThresholdSeconds))
	}
	if int64(c.MaxEntries) > c.MaxActivePatterns {
		errs = append(errs, fmt.Errorf("config: max_entries (%d) must be <= max_active_patterns (%d)",
			c.MaxEntries, c.MaxActivePatterns))
	}

	return errors.Join(errs...)
}
