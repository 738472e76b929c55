package config

import (
	"time"

	"github.com/hoangnd/queuemedic/internal/infra/arr"
	"github.com/hoangnd/queuemedic/internal/infra/downloader"
	redisclient "github.com/hoangnd/queuemedic/internal/infra/redis"
	"github.com/hoangnd/queuemedic/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Monitor    MonitorConfig      `yaml:"monitor"`
	Recovery   RecoveryConfig     `yaml:"recovery"`
	Downloader downloader.Config  `yaml:"downloader"`
	Managers   []arr.Config       `yaml:"managers"`
	Storage    StorageConfig      `yaml:"storage"`
	Redis      redisclient.Config `yaml:"redis"`
	Database   postgres.Config    `yaml:"database"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// MonitorConfig holds queue polling settings.
type MonitorConfig struct {
	Interval     time.Duration     `yaml:"interval"`
	FetchTimeout time.Duration     `yaml:"fetch_timeout"`
	SourceApps   map[string]string `yaml:"source_apps"` // category prefix -> app name
}

// RecoveryConfig holds retry orchestration settings.
type RecoveryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // postgres, redis, memory
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
