// Package config loads the typed configuration for the zsh execution service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a value object populated once at startup from defaults, an
// optional YAML file, and environment overrides, in that order of
// precedence (env wins).
type Config struct {
	AlanDBPath string `yaml:"alan_db_path"`

	NeverhangTimeoutDefault time.Duration `yaml:"-"`
	NeverhangTimeoutMax     time.Duration `yaml:"-"`
	YieldAfterDefault       time.Duration `yaml:"-"`
	TruncateOutputAt        int           `yaml:"truncate_output_at"`

	AlanDecayHalfLifeHours float64       `yaml:"alan_decay_half_life_hours"`
	AlanPruneThreshold     float64       `yaml:"alan_prune_threshold"`
	AlanPruneInterval      time.Duration `yaml:"-"`
	AlanMaxEntries         int           `yaml:"alan_max_entries"`

	NeverhangFailureThreshold int           `yaml:"neverhang_failure_threshold"`
	NeverhangRecoveryTimeout  time.Duration `yaml:"-"`
	NeverhangSampleWindow     time.Duration `yaml:"-"`

	AlanManoptEnabled     bool          `yaml:"alan_manopt_enabled"`
	AlanManoptFailTrigger int           `yaml:"alan_manopt_fail_trigger"`
	AlanManoptFailPresent int           `yaml:"alan_manopt_fail_present"`
	AlanManoptTimeout     time.Duration `yaml:"-"`

	DashboardAddr  string `yaml:"dashboard_addr"`
	BusPort        int    `yaml:"bus_port"`
	NotifyEnabled  bool   `yaml:"notify_enabled"`
	ConfigFile     string `yaml:"-"`
}

// yamlShadow mirrors Config's duration fields as plain numbers so yaml.v3
// can unmarshal them without a custom Duration type.
type yamlShadow struct {
	AlanDBPath                string  `yaml:"alan_db_path"`
	NeverhangTimeoutDefaultS  float64 `yaml:"neverhang_timeout_default"`
	NeverhangTimeoutMaxS      float64 `yaml:"neverhang_timeout_max"`
	YieldAfterDefaultS        float64 `yaml:"yield_after_default"`
	TruncateOutputAt          int     `yaml:"truncate_output_at"`
	AlanDecayHalfLifeHours    float64 `yaml:"alan_decay_half_life_hours"`
	AlanPruneThreshold        float64 `yaml:"alan_prune_threshold"`
	AlanPruneIntervalHours    float64 `yaml:"alan_prune_interval_hours"`
	AlanMaxEntries            int     `yaml:"alan_max_entries"`
	NeverhangFailureThreshold int     `yaml:"neverhang_failure_threshold"`
	NeverhangRecoveryTimeoutS float64 `yaml:"neverhang_recovery_timeout"`
	NeverhangSampleWindowS    float64 `yaml:"neverhang_sample_window"`
	AlanManoptEnabled         *bool   `yaml:"alan_manopt_enabled"`
	AlanManoptFailTrigger     int     `yaml:"alan_manopt_fail_trigger"`
	AlanManoptFailPresent     int     `yaml:"alan_manopt_fail_present"`
	AlanManoptTimeoutS        float64 `yaml:"alan_manopt_timeout"`
	DashboardAddr             string  `yaml:"dashboard_addr"`
	BusPort                   int     `yaml:"bus_port"`
	NotifyEnabled             *bool   `yaml:"notify_enabled"`
}

// Default returns the built-in default configuration (spec.md §4.1 / SPEC_FULL.md §5.1).
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		AlanDBPath:                filepath.Join(home, ".claude", "plugins", "zsh-tool", "data", "alan.db"),
		NeverhangTimeoutDefault:   120 * time.Second,
		NeverhangTimeoutMax:       600 * time.Second,
		YieldAfterDefault:         2 * time.Second,
		TruncateOutputAt:          30000,
		AlanDecayHalfLifeHours:    24,
		AlanPruneThreshold:        0.01,
		AlanPruneInterval:         6 * time.Hour,
		AlanMaxEntries:            10000,
		NeverhangFailureThreshold: 3,
		NeverhangRecoveryTimeout:  300 * time.Second,
		NeverhangSampleWindow:     3600 * time.Second,
		AlanManoptEnabled:         true,
		AlanManoptFailTrigger:     2,
		AlanManoptFailPresent:     3,
		AlanManoptTimeout:         2 * time.Second,
		DashboardAddr:             "",
		BusPort:                   0,
		NotifyEnabled:             true,
		ConfigFile:                "",
	}
}

// Load builds the effective configuration: defaults, then an optional YAML
// overlay named by ZSHTOOL_CONFIG_FILE, then explicit environment variables,
// matching the layering the teacher uses for its teams.yaml overlay plus its
// direct os.Getenv reads elsewhere.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("ZSHTOOL_CONFIG_FILE"); path != "" {
		cfg.ConfigFile = path
		if err := applyYAMLFile(&cfg, path); err != nil {
			return cfg, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	return cfg, nil
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var shadow yamlShadow
	shadow.AlanDBPath = cfg.AlanDBPath
	shadow.NeverhangTimeoutDefaultS = cfg.NeverhangTimeoutDefault.Seconds()
	shadow.NeverhangTimeoutMaxS = cfg.NeverhangTimeoutMax.Seconds()
	shadow.YieldAfterDefaultS = cfg.YieldAfterDefault.Seconds()
	shadow.TruncateOutputAt = cfg.TruncateOutputAt
	shadow.AlanDecayHalfLifeHours = cfg.AlanDecayHalfLifeHours
	shadow.AlanPruneThreshold = cfg.AlanPruneThreshold
	shadow.AlanPruneIntervalHours = cfg.AlanPruneInterval.Hours()
	shadow.AlanMaxEntries = cfg.AlanMaxEntries
	shadow.NeverhangFailureThreshold = cfg.NeverhangFailureThreshold
	shadow.NeverhangRecoveryTimeoutS = cfg.NeverhangRecoveryTimeout.Seconds()
	shadow.NeverhangSampleWindowS = cfg.NeverhangSampleWindow.Seconds()
	shadow.AlanManoptFailTrigger = cfg.AlanManoptFailTrigger
	shadow.AlanManoptFailPresent = cfg.AlanManoptFailPresent
	shadow.AlanManoptTimeoutS = cfg.AlanManoptTimeout.Seconds()
	shadow.DashboardAddr = cfg.DashboardAddr
	shadow.BusPort = cfg.BusPort

	if err := yaml.Unmarshal(data, &shadow); err != nil {
		return err
	}

	cfg.AlanDBPath = shadow.AlanDBPath
	cfg.NeverhangTimeoutDefault = secondsToDuration(shadow.NeverhangTimeoutDefaultS)
	cfg.NeverhangTimeoutMax = secondsToDuration(shadow.NeverhangTimeoutMaxS)
	cfg.YieldAfterDefault = secondsToDuration(shadow.YieldAfterDefaultS)
	cfg.TruncateOutputAt = shadow.TruncateOutputAt
	cfg.AlanDecayHalfLifeHours = shadow.AlanDecayHalfLifeHours
	cfg.AlanPruneThreshold = shadow.AlanPruneThreshold
	cfg.AlanPruneInterval = time.Duration(shadow.AlanPruneIntervalHours * float64(time.Hour))
	cfg.AlanMaxEntries = shadow.AlanMaxEntries
	cfg.NeverhangFailureThreshold = shadow.NeverhangFailureThreshold
	cfg.NeverhangRecoveryTimeout = secondsToDuration(shadow.NeverhangRecoveryTimeoutS)
	cfg.NeverhangSampleWindow = secondsToDuration(shadow.NeverhangSampleWindowS)
	cfg.AlanManoptFailTrigger = shadow.AlanManoptFailTrigger
	cfg.AlanManoptFailPresent = shadow.AlanManoptFailPresent
	cfg.AlanManoptTimeout = secondsToDuration(shadow.AlanManoptTimeoutS)
	cfg.DashboardAddr = shadow.DashboardAddr
	cfg.BusPort = shadow.BusPort
	if shadow.AlanManoptEnabled != nil {
		cfg.AlanManoptEnabled = *shadow.AlanManoptEnabled
	}
	if shadow.NotifyEnabled != nil {
		cfg.NotifyEnabled = *shadow.NotifyEnabled
	}

	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ALAN_DB_PATH"); v != "" {
		cfg.AlanDBPath = v
	}
	envDuration("NEVERHANG_TIMEOUT_DEFAULT", &cfg.NeverhangTimeoutDefault)
	envDuration("NEVERHANG_TIMEOUT_MAX", &cfg.NeverhangTimeoutMax)
	envDuration("YIELD_AFTER_DEFAULT", &cfg.YieldAfterDefault)
	envInt("TRUNCATE_OUTPUT_AT", &cfg.TruncateOutputAt)
	envFloat("ALAN_DECAY_HALF_LIFE_HOURS", &cfg.AlanDecayHalfLifeHours)
	envFloat("ALAN_PRUNE_THRESHOLD", &cfg.AlanPruneThreshold)
	envDurationHours("ALAN_PRUNE_INTERVAL_HOURS", &cfg.AlanPruneInterval)
	envInt("ALAN_MAX_ENTRIES", &cfg.AlanMaxEntries)
	envInt("NEVERHANG_FAILURE_THRESHOLD", &cfg.NeverhangFailureThreshold)
	envDuration("NEVERHANG_RECOVERY_TIMEOUT", &cfg.NeverhangRecoveryTimeout)
	envDuration("NEVERHANG_SAMPLE_WINDOW", &cfg.NeverhangSampleWindow)
	envBool("ALAN_MANOPT_ENABLED", &cfg.AlanManoptEnabled)
	envInt("ALAN_MANOPT_FAIL_TRIGGER", &cfg.AlanManoptFailTrigger)
	envInt("ALAN_MANOPT_FAIL_PRESENT", &cfg.AlanManoptFailPresent)
	envDuration("ALAN_MANOPT_TIMEOUT", &cfg.AlanManoptTimeout)
	if v := os.Getenv("ZSHTOOL_DASHBOARD_ADDR"); v != "" {
		cfg.DashboardAddr = v
	}
	envInt("ZSHTOOL_BUS_PORT", &cfg.BusPort)
	envBool("ZSHTOOL_NOTIFY_ENABLED", &cfg.NotifyEnabled)
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = secondsToDuration(f)
		}
	}
}

func envDurationHours(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(f * float64(time.Hour))
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
