/*
config.go - Server configuration

PURPOSE:
  Loads server configuration from an optional TOML file, with
  command-line flags taking precedence. Keeps every tunable in one
  struct so ops can diff configs between environments.

FILE FORMAT (TOML):
  port = 8080
  db_path = "./data/capacity.db"
  log_level = "info"       # trace|debug|info|warn|error
  hold_ttl_minutes = 30
  scheduler_enabled = true
  scheduler_interval_seconds = 60

PRECEDENCE:
  defaults < config file < explicit flags
*/
package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds all server tunables.
type Config struct {
	Port                     int    `toml:"port"`
	DBPath                   string `toml:"db_path"`
	LogLevel                 string `toml:"log_level"`
	HoldTTLMinutes           int    `toml:"hold_ttl_minutes"`
	SchedulerEnabled         bool   `toml:"scheduler_enabled"`
	SchedulerIntervalSeconds int    `toml:"scheduler_interval_seconds"`
}

func defaultConfig() Config {
	return Config{
		Port:                     8080,
		DBPath:                   "capacity.db",
		LogLevel:                 "info",
		HoldTTLMinutes:           30,
		SchedulerEnabled:         true,
		SchedulerIntervalSeconds: 60,
	}
}

// loadConfig reads the TOML file at path into the defaults. A missing
// path is fine; a present but unreadable or malformed file is not.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, fmt.Errorf("config file not found: %s", path)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
