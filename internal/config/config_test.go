package config

import (
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}

	if cfg.Redis.Addr() != "localhost:6379" {
		t.Errorf("Expected default redis address, got %s", cfg.Redis.Addr())
	}

	if cfg.Security.Frequency.Window != 5*time.Minute {
		t.Errorf("Expected default frequency window 5m, got %v", cfg.Security.Frequency.Window)
	}

	if cfg.Security.Behavior.HistorySize != 100 {
		t.Errorf("Expected default behavior history size 100, got %d", cfg.Security.Behavior.HistorySize)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level 'info', got %s", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Security.Frequency.HighThreshold = 10
	cfg.Security.Frequency.MediumThreshold = 50

	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for inverted frequency thresholds")
	}
}

func TestValidateRejectsBadHoursWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Security.Behavior.NormalHoursStart = 23
	cfg.Security.Behavior.NormalHoursEnd = 6

	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for inverted hours window")
	}
}
