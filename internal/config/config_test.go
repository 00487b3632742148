package config

import (
	"strings"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("the documented defaults must themselves be valid, got %v", err)
	}
}

func TestValidateJoinsMultipleViolations(t *testing.T) {
	cfg := Default()
	cfg.MaxEntries = 0
	cfg.IdleThresholdSeconds = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected a validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "max_entries") || !strings.Contains(msg, "idle_threshold_seconds") {
		t.Fatalf("expected errors.Join to report both violations together, got: %s", msg)
	}
}

func TestValidateEnforcesIntervalOrdering(t *testing.T) {
	cfg := Default()
	cfg.DeferredCleanupIntervalSeconds = 100
	cfg.IdleScanIntervalSeconds = 10

	if err := cfg.Validate(); err == nil {
		t.Fatal("deferred_cleanup_interval_seconds > idle_scan_interval_seconds must be rejected")
	}
}

func TestValidateEnforcesMaxEntriesVsMaxActivePatterns(t *testing.T) {
	cfg := Default()
	cfg.MaxEntries = 100
	cfg.MaxActivePatterns = 50

	if err := cfg.Validate(); err == nil {
		t.Fatal("max_entries > max_active_patterns must be rejected")
	}
}

func TestParseJSONAppliesDefaultsForUnsetFields(t *testing.T) {
	cfg, err := ParseJSON([]byte(`{"max_entries": 10}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if cfg.MaxEntries != 10 {
		t.Fatalf("MaxEntries = %d, want 10", cfg.MaxEntries)
	}
	if cfg.IdleThresholdSeconds != Default().IdleThresholdSeconds {
		t.Fatalf("unset fields must keep their default value, IdleThresholdSeconds = %d", cfg.IdleThresholdSeconds)
	}
}

func TestParseJSONRejectsInvalidResult(t *testing.T) {
	if _, err := ParseJSON([]byte(`{"max_entries": -1}`)); err == nil {
		t.Fatal("ParseJSON must validate the decoded config")
	}
}
