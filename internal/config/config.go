// Package config loads service configuration from an optional config.yaml
// plus EASEL_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/easel/internal/db"
	"github.com/rpattn/easel/internal/storage"
)

// Backend names accepted for storage.backend.
const (
	BackendMemory     = "memory"
	BackendFilesystem = "filesystem"
	BackendSQLite     = "sqlite"
	BackendPostgres   = "postgres"
	BackendS3         = "s3"
	BackendRedis      = "redis"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// StorageConfig selects and parameterizes the scene storage backend.
type StorageConfig struct {
	Backend    string
	FileDir    string
	SQLitePath string
	Database   db.Config
	S3         storage.S3Config
	Redis      storage.RedisConfig
}

// AutosaveConfig tunes the persistence scheduler and remote change monitor.
type AutosaveConfig struct {
	SceneSaveDelay   time.Duration
	HistorySaveDelay time.Duration
	PollInterval     time.Duration
	HistoryCapacity  int
}

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Autosave AutosaveConfig
}

// DefaultConfig returns the configuration used when nothing overrides it:
// an in-memory backend on :8080 with the stock autosave windows.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Storage: StorageConfig{
			Backend:    BackendMemory,
			FileDir:    "./data/scenes",
			SQLitePath: "./data/easel.db",
			Database:   db.DefaultConfig(),
			S3:         storage.S3Config{Region: "us-east-1"},
			Redis:      storage.RedisConfig{Addr: "localhost:6379"},
		},
		Autosave: AutosaveConfig{
			SceneSaveDelay:   time.Second,
			HistorySaveDelay: 2 * time.Second,
			PollInterval:     30 * time.Second,
			HistoryCapacity:  100,
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendFilesystem, BackendSQLite, BackendPostgres, BackendS3, BackendRedis:
	default:
		return fmt.Errorf("unknown storage backend %q (expected one of %s)",
			c.Storage.Backend,
			strings.Join([]string{BackendMemory, BackendFilesystem, BackendSQLite, BackendPostgres, BackendS3, BackendRedis}, ", "))
	}
	if c.Storage.Backend == BackendS3 && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage backend s3 requires storage.s3.bucket")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Autosave.SceneSaveDelay <= 0 || c.Autosave.HistorySaveDelay <= 0 {
		return fmt.Errorf("autosave delays must be positive")
	}
	if c.Autosave.HistoryCapacity <= 0 {
		return fmt.Errorf("autosave.history_capacity must be positive")
	}
	return nil
}
