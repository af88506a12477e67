package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	ListenAddr    string        `yaml:"listen_addr"`
	DBPath        string        `yaml:"db_path"`
	ResetInterval time.Duration `yaml:"reset_interval"`
}

// LoadConfig loads config from yaml or env. Env values fill any field the
// file leaves empty; built-in defaults apply last.
func LoadConfig() (Config, error) {
	var cfg Config

	if path := os.Getenv("LMS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = getenvDefault("LMS_LISTEN_ADDR", ":8080")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = getenvDefault("LMS_DB_PATH", "lms.db")
	}
	if cfg.ResetInterval == 0 {
		cfg.ResetInterval = getenvDurationDefault("LMS_RESET_INTERVAL", time.Hour)
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
