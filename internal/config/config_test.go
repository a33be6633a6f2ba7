package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendURL != "http://localhost:8080" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.Plan != "free" {
		t.Errorf("Plan = %q", cfg.Plan)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if !cfg.Journal.Enabled || cfg.Journal.QueueSize != 256 {
		t.Errorf("Journal = %+v", cfg.Journal)
	}
	if !cfg.IsDevelopment() {
		t.Error("localhost backend should count as development")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://api.prepdeck.io")
	t.Setenv("PLAN", "pro")
	t.Setenv("USER_ID", "u-123")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "30")
	t.Setenv("JOURNAL_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendURL != "https://api.prepdeck.io" || cfg.Plan != "pro" || cfg.UserID != "u-123" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.Journal.Enabled {
		t.Error("journal should be disabled")
	}
	if cfg.IsDevelopment() {
		t.Error("remote backend should not count as development")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	if _, err := Load(); err == nil {
		t.Error("empty BACKEND_URL accepted")
	}
}
