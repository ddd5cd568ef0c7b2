// Package config loads process configuration from SANTA_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"golang.org/x/text/language"

	"secretsanta/internal/blob"
	"secretsanta/internal/core"
)

// Prefix is prepended to every variable name.
const Prefix = "SANTA_"

// S3 configures the S3 archive backend.
type S3 struct {
	Region          string `env:"REGION" envDefault:"us-east-1"`
	Bucket          string `env:"BUCKET"`
	Endpoint        string `env:"ENDPOINT"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	SessionToken    string `env:"SESSION_TOKEN"`
	PathStyle       bool   `env:"PATH_STYLE"`
}

// Config is the full process configuration.
type Config struct {
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"file"`
	StatePath     string `env:"STATE_PATH" envDefault:"data/state.json"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"data/santa.db"`
	PostgresDSN   string `env:"POSTGRES_DSN"`

	BlobDriver  string `env:"BLOB_DRIVER" envDefault:"fs"`
	ArchiveRoot string `env:"ARCHIVE_ROOT" envDefault:"data/archives"`
	S3          S3     `envPrefix:"BLOB_S3_"`

	BackupSchedule    string `env:"BACKUP_SCHEDULE" envDefault:"@hourly"`
	HistoryLookback   int    `env:"HISTORY_LOOKBACK" envDefault:"0"`
	NotifyConcurrency int    `env:"NOTIFY_CONCURRENCY" envDefault:"4"`
	Locale            string `env:"LOCALE" envDefault:"und"`

	TelegramToken string `env:"TELEGRAM_TOKEN"`

	MetricsAddr string     `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat   string     `env:"LOG_FORMAT" envDefault:"text"`
	// TraceFile appends one JSON line per service operation when set.
	TraceFile string `env:"TRACE_FILE"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: Prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the process configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch core.StorageDriver(c.StorageDriver) {
	case core.StorageFile, core.StorageSQLite, core.StorageMemory:
	case core.StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%sPOSTGRES_DSN is required for the postgres driver", Prefix)
		}
	default:
		return fmt.Errorf("unknown %sSTORAGE_DRIVER %q", Prefix, c.StorageDriver)
	}
	switch blob.Driver(c.BlobDriver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("%sBLOB_S3_BUCKET is required for the s3 driver", Prefix)
		}
	default:
		return fmt.Errorf("unknown %sBLOB_DRIVER %q", Prefix, c.BlobDriver)
	}
	if c.HistoryLookback < 0 {
		return fmt.Errorf("%sHISTORY_LOOKBACK must not be negative", Prefix)
	}
	if _, err := language.Parse(c.Locale); err != nil {
		return fmt.Errorf("%sLOCALE: %w", Prefix, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown %sLOG_FORMAT %q", Prefix, c.LogFormat)
	}
	return nil
}

// Storage returns the state store selection.
func (c Config) Storage() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.StorageDriver),
		StatePath:   c.StatePath,
		SQLitePath:  c.SQLitePath,
		PostgresDSN: c.PostgresDSN,
	}
}

// Blob returns the archive backend selection.
func (c Config) Blob() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.BlobDriver),
		FSRoot: c.ArchiveRoot,
		S3: blob.S3Config{
			Region:          c.S3.Region,
			Bucket:          c.S3.Bucket,
			Endpoint:        c.S3.Endpoint,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			SessionToken:    c.S3.SessionToken,
			PathStyle:       c.S3.PathStyle,
		},
	}
}

// Language returns the collation locale; invalid tags fall back to und.
func (c Config) Language() language.Tag {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.Und
	}
	return tag
}
