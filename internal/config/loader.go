package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads config.yaml from configPath and applies EASEL_* environment
// overrides on top of the defaults. A missing config file is fine; the
// defaults plus environment carry a dev setup on their own.
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()        // allow environment overrides
	v.SetEnvPrefix("EASEL") // map env vars like EASEL_SERVER_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Map nested keys to flat env vars
	v.BindEnv("server.addr")
	v.BindEnv("server.allowed_origins")
	v.BindEnv("storage.backend")
	v.BindEnv("storage.file_dir")
	v.BindEnv("storage.sqlite_path")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("storage.s3.bucket")
	v.BindEnv("storage.s3.region")
	v.BindEnv("storage.s3.endpoint")
	v.BindEnv("storage.s3.prefix")
	v.BindEnv("storage.redis.addr")
	v.BindEnv("storage.redis.password")
	v.BindEnv("storage.redis.db")
	v.BindEnv("storage.redis.prefix")
	v.BindEnv("autosave.scene_save_delay")
	v.BindEnv("autosave.history_save_delay")
	v.BindEnv("autosave.poll_interval")
	v.BindEnv("autosave.history_capacity")

	if err := v.ReadInConfig(); err != nil {
		slog.Info("no config.yaml found, using defaults and env vars", "path", configPath)
	} else {
		slog.Info("loaded config.yaml", "file", v.ConfigFileUsed())
	}

	// Override defaults if values exist
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("storage.backend") {
		cfg.Storage.Backend = v.GetString("storage.backend")
	}
	if v.IsSet("storage.file_dir") {
		cfg.Storage.FileDir = v.GetString("storage.file_dir")
	}
	if v.IsSet("storage.sqlite_path") {
		cfg.Storage.SQLitePath = v.GetString("storage.sqlite_path")
	}
	if v.IsSet("database.host") {
		cfg.Storage.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Storage.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Storage.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Storage.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Storage.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Storage.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("storage.s3.bucket") {
		cfg.Storage.S3.Bucket = v.GetString("storage.s3.bucket")
	}
	if v.IsSet("storage.s3.region") {
		cfg.Storage.S3.Region = v.GetString("storage.s3.region")
	}
	if v.IsSet("storage.s3.endpoint") {
		cfg.Storage.S3.Endpoint = v.GetString("storage.s3.endpoint")
	}
	if v.IsSet("storage.s3.prefix") {
		cfg.Storage.S3.Prefix = v.GetString("storage.s3.prefix")
	}
	if v.IsSet("storage.redis.addr") {
		cfg.Storage.Redis.Addr = v.GetString("storage.redis.addr")
	}
	if v.IsSet("storage.redis.password") {
		cfg.Storage.Redis.Password = v.GetString("storage.redis.password")
	}
	if v.IsSet("storage.redis.db") {
		cfg.Storage.Redis.DB = v.GetInt("storage.redis.db")
	}
	if v.IsSet("storage.redis.prefix") {
		cfg.Storage.Redis.Prefix = v.GetString("storage.redis.prefix")
	}
	if v.IsSet("autosave.scene_save_delay") {
		cfg.Autosave.SceneSaveDelay = v.GetDuration("autosave.scene_save_delay")
	}
	if v.IsSet("autosave.history_save_delay") {
		cfg.Autosave.HistorySaveDelay = v.GetDuration("autosave.history_save_delay")
	}
	if v.IsSet("autosave.poll_interval") {
		cfg.Autosave.PollInterval = v.GetDuration("autosave.poll_interval")
	}
	if v.IsSet("autosave.history_capacity") {
		cfg.Autosave.HistoryCapacity = v.GetInt("autosave.history_capacity")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
