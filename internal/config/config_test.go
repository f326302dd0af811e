package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.NeverhangTimeoutDefault != 120*time.Second {
		t.Errorf("NeverhangTimeoutDefault = %v, want 120s", cfg.NeverhangTimeoutDefault)
	}
	if cfg.NeverhangTimeoutMax != 600*time.Second {
		t.Errorf("NeverhangTimeoutMax = %v, want 600s", cfg.NeverhangTimeoutMax)
	}
	if cfg.TruncateOutputAt != 30000 {
		t.Errorf("TruncateOutputAt = %d, want 30000", cfg.TruncateOutputAt)
	}
	if cfg.AlanDecayHalfLifeHours != 24 {
		t.Errorf("AlanDecayHalfLifeHours = %v, want 24", cfg.AlanDecayHalfLifeHours)
	}
	if cfg.NeverhangFailureThreshold != 3 {
		t.Errorf("NeverhangFailureThreshold = %d, want 3", cfg.NeverhangFailureThreshold)
	}
	if !cfg.AlanManoptEnabled {
		t.Error("AlanManoptEnabled should default to true")
	}
	if !cfg.NotifyEnabled {
		t.Error("NotifyEnabled should default to true")
	}
	if cfg.DashboardAddr != "" {
		t.Error("DashboardAddr should default to empty (disabled)")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	os.Setenv("NEVERHANG_TIMEOUT_DEFAULT", "45")
	os.Setenv("ALAN_MAX_ENTRIES", "500")
	os.Setenv("ALAN_MANOPT_ENABLED", "false")
	os.Setenv("ZSHTOOL_DASHBOARD_ADDR", "127.0.0.1:9090")
	defer func() {
		os.Unsetenv("NEVERHANG_TIMEOUT_DEFAULT")
		os.Unsetenv("ALAN_MAX_ENTRIES")
		os.Unsetenv("ALAN_MANOPT_ENABLED")
		os.Unsetenv("ZSHTOOL_DASHBOARD_ADDR")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NeverhangTimeoutDefault != 45*time.Second {
		t.Errorf("NeverhangTimeoutDefault = %v, want 45s", cfg.NeverhangTimeoutDefault)
	}
	if cfg.AlanMaxEntries != 500 {
		t.Errorf("AlanMaxEntries = %d, want 500", cfg.AlanMaxEntries)
	}
	if cfg.AlanManoptEnabled {
		t.Error("AlanManoptEnabled should be false")
	}
	if cfg.DashboardAddr != "127.0.0.1:9090" {
		t.Errorf("DashboardAddr = %q, want 127.0.0.1:9090", cfg.DashboardAddr)
	}
}

func TestLoadYAMLOverlayThenEnvWins(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "zshtool-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.WriteString("alan_max_entries: 250\nneverhang_timeout_default: 30\n"); err != nil {
		t.Fatal(err)
	}

	os.Setenv("ZSHTOOL_CONFIG_FILE", f.Name())
	os.Setenv("NEVERHANG_TIMEOUT_DEFAULT", "90")
	defer func() {
		os.Unsetenv("ZSHTOOL_CONFIG_FILE")
		os.Unsetenv("NEVERHANG_TIMEOUT_DEFAULT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AlanMaxEntries != 250 {
		t.Errorf("AlanMaxEntries = %d, want 250 (from YAML)", cfg.AlanMaxEntries)
	}
	if cfg.NeverhangTimeoutDefault != 90*time.Second {
		t.Errorf("NeverhangTimeoutDefault = %v, want 90s (env overrides YAML)", cfg.NeverhangTimeoutDefault)
	}
}
