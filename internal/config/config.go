// Package config loads the server configuration file. Every field has a
// usable default so the server boots with no file at all.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"townsquare.app/internal/townstore"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// TownCapacity caps how many players any one town admits.
	TownCapacity int `yaml:"town_capacity"`

	Log     LogConfig     `yaml:"log"`
	Journal JournalConfig `yaml:"journal"`
	Store   StoreConfig   `yaml:"store"`
}

type LogConfig struct {
	// File receives the rotated structured log. Empty means stderr only.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Level      string `yaml:"level"`
}

type JournalConfig struct {
	// Dir is where compressed session journals are written. Empty disables
	// journaling.
	Dir string `yaml:"dir"`
}

type StoreConfig struct {
	// DSN for the town directory read model. The default keeps it in memory.
	DSN string `yaml:"dsn"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddr:   ":8081",
		TownCapacity: 50,
		Log: LogConfig{
			MaxSizeMB:  64,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Level:      "info",
		},
		Store: StoreConfig{DSN: townstore.DefaultDSN},
	}
}

func (c *Config) Normalize() {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8081"
	}
	if c.TownCapacity <= 0 {
		c.TownCapacity = 50
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		c.Store.DSN = townstore.DefaultDSN
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 64
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
}

func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
