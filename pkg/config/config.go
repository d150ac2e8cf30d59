// Package config loads the daemon configuration from YAML with env-style
// fallbacks applied by the caller.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen           = "127.0.0.1:7496"
	DefaultDataDir          = "data"
	DefaultDBFile           = "trading_journal.db"
	DefaultMirrorInterval   = 30 * time.Second
	DefaultSyncLookbackDays = 30
)

type LoggingConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type SyncConfig struct {
	// MirrorPollInterval is how long a live mirror session sleeps between polls.
	MirrorPollInterval time.Duration `yaml:"mirror_poll_interval"`
	// LookbackDays bounds the default fetch window when no cursor exists.
	LookbackDays int `yaml:"lookback_days"`
}

// UnmarshalYAML accepts go duration strings ("30s", "2m") for the poll
// interval.
func (s *SyncConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MirrorPollInterval string `yaml:"mirror_poll_interval"`
		LookbackDays       int    `yaml:"lookback_days"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MirrorPollInterval != "" {
		d, err := time.ParseDuration(raw.MirrorPollInterval)
		if err != nil {
			return fmt.Errorf("parse sync.mirror_poll_interval: %w", err)
		}
		s.MirrorPollInterval = d
	}
	s.LookbackDays = raw.LookbackDays
	return nil
}

type Config struct {
	Listen  string        `yaml:"listen"`
	DataDir string        `yaml:"data_dir"`
	DBPath  string        `yaml:"db_path"`
	Logging LoggingConfig `yaml:"logging"`
	Sync    SyncConfig    `yaml:"sync"`
}

// Load reads path if it exists; a missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DBPath == "" {
		c.DBPath = c.DataDir + "/" + DefaultDBFile
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 7
	}
	if c.Sync.MirrorPollInterval == 0 {
		c.Sync.MirrorPollInterval = DefaultMirrorInterval
	}
	if c.Sync.LookbackDays == 0 {
		c.Sync.LookbackDays = DefaultSyncLookbackDays
	}
}

func (c *Config) Validate() error {
	if c.Sync.MirrorPollInterval < time.Second {
		return fmt.Errorf("sync.mirror_poll_interval must be at least 1s, got %s", c.Sync.MirrorPollInterval)
	}
	if c.Sync.LookbackDays < 0 {
		return fmt.Errorf("sync.lookback_days must not be negative, got %d", c.Sync.LookbackDays)
	}
	return nil
}
