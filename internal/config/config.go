// Package config provides configuration management for the alerts pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Storage   StorageConfig            `mapstructure:"storage"`
	Detector  DetectorConfig           `mapstructure:"detector"`
	Scheduler SchedulerConfig          `mapstructure:"scheduler"`
	Channels  map[string]ChannelConfig `mapstructure:"channels"`
	Logging   LoggingConfig            `mapstructure:"logging"`
	DryRun    bool                     `mapstructure:"dry_run"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// DetectorConfig holds anomaly detection thresholds.
type DetectorConfig struct {
	ClusterWindowDays      int     `mapstructure:"cluster_window_days"`
	ClusterMinActors       int     `mapstructure:"cluster_min_actors"`
	FirstPurchaseYears     int     `mapstructure:"first_purchase_years"`
	RelativeSizeMultiplier float64 `mapstructure:"relative_size_multiplier"`
	MinHistorySamples      int     `mapstructure:"min_history_samples"`
	AbsoluteLargeCeiling   float64 `mapstructure:"absolute_large_ceiling"`
}

// SchedulerConfig holds delivery scheduling configuration.
type SchedulerConfig struct {
	Tier2MaxDelay    time.Duration `mapstructure:"tier2_max_delay"`
	Tier3BatchWindow time.Duration `mapstructure:"tier3_batch_window"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BackoffInitial   time.Duration `mapstructure:"backoff_initial"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`

	// Events outside this value band are stored and rolled up but
	// never individually dispatched.
	MinTransactionValue float64 `mapstructure:"min_transaction_value"`
	MaxTransactionValue float64 `mapstructure:"max_transaction_value"`
}

// ChannelConfig holds per-channel delivery configuration.
type ChannelConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	WebhookURL   string        `mapstructure:"webhook_url"`
	RateCapacity int           `mapstructure:"rate_capacity"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/smartmoney-alerts"
	}
	return filepath.Join(home, ".config", "smartmoney-alerts")
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath: filepath.Join(DefaultConfigDir(), "smartmoney.db"),
		},
		Detector: DetectorConfig{
			ClusterWindowDays:      7,
			ClusterMinActors:       2,
			FirstPurchaseYears:     2,
			RelativeSizeMultiplier: 5.0,
			MinHistorySamples:      2,
			AbsoluteLargeCeiling:   10_000_000,
		},
		Scheduler: SchedulerConfig{
			Tier2MaxDelay:       time.Hour,
			Tier3BatchWindow:    4 * time.Hour,
			MaxAttempts:         5,
			BackoffInitial:      time.Minute,
			BackoffMax:          time.Hour,
			MinTransactionValue: 10_000,
			MaxTransactionValue: 500_000_000,
		},
		Channels: map[string]ChannelConfig{
			"twitter": {
				Enabled:      true,
				RateCapacity: 15,
				RateInterval: time.Hour,
			},
			"discord": {
				Enabled:      true,
				RateCapacity: 30,
				RateInterval: time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    true,
		},
	}
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Defaults()

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template with defaults
			return createTemplateConfig(configDir)
		}
		return err
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SMARTMONEY_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("SMARTMONEY_DRY_RUN"); v == "true" || v == "1" {
		cfg.DryRun = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		ch := cfg.Channels["discord"]
		ch.WebhookURL = v
		cfg.Channels["discord"] = ch
	}
	if v := os.Getenv("TWITTER_WEBHOOK_URL"); v != "" {
		ch := cfg.Channels["twitter"]
		ch.WebhookURL = v
		cfg.Channels["twitter"] = ch
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Detector.ClusterWindowDays <= 0 {
		return fmt.Errorf("cluster_window_days must be positive")
	}
	if c.Detector.ClusterMinActors < 2 {
		return fmt.Errorf("cluster_min_actors must be at least 2")
	}
	if c.Detector.FirstPurchaseYears <= 0 {
		return fmt.Errorf("first_purchase_years must be positive")
	}
	if c.Detector.AbsoluteLargeCeiling <= 0 {
		return fmt.Errorf("absolute_large_ceiling must be positive")
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if c.Scheduler.BackoffInitial <= 0 || c.Scheduler.BackoffMax < c.Scheduler.BackoffInitial {
		return fmt.Errorf("backoff window invalid: initial %v, max %v",
			c.Scheduler.BackoffInitial, c.Scheduler.BackoffMax)
	}
	if c.Scheduler.MinTransactionValue < 0 {
		return fmt.Errorf("min_transaction_value must be non-negative")
	}
	for name, ch := range c.Channels {
		if !ch.Enabled {
			continue
		}
		if ch.RateCapacity <= 0 {
			return fmt.Errorf("channel %s: rate_capacity must be positive", name)
		}
		if ch.RateInterval <= 0 {
			return fmt.Errorf("channel %s: rate_interval must be positive", name)
		}
	}
	return nil
}

// EnabledChannels returns the names of channels enabled for delivery,
// in stable order.
func (c *Config) EnabledChannels() []string {
	names := make([]string, 0, len(c.Channels))
	for name, ch := range c.Channels {
		if ch.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
