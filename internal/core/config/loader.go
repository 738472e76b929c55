package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = 2 * time.Minute
	}
	if cfg.Monitor.FetchTimeout == 0 {
		cfg.Monitor.FetchTimeout = 15 * time.Second
	}
	if cfg.Recovery.MaxRetries == 0 {
		cfg.Recovery.MaxRetries = 3
	}
	if cfg.Recovery.BackoffBase == 0 {
		cfg.Recovery.BackoffBase = 5 * time.Minute
	}
	if cfg.Recovery.BackoffMax == 0 {
		cfg.Recovery.BackoffMax = 6 * time.Hour
	}
	if cfg.Recovery.InvokeTimeout == 0 {
		cfg.Recovery.InvokeTimeout = 30 * time.Second
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
