package config

import (
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/text/language"

	"secretsanta/internal/blob"
	"secretsanta/internal/core"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageDriver != "file" || cfg.StatePath != "data/state.json" {
		t.Fatalf("unexpected storage defaults: %+v", cfg)
	}
	if cfg.BlobDriver != "fs" || cfg.ArchiveRoot != "data/archives" {
		t.Fatalf("unexpected blob defaults: %+v", cfg)
	}
	if cfg.BackupSchedule != "@hourly" {
		t.Fatalf("expected hourly backups, got %q", cfg.BackupSchedule)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("expected info level, got %v", cfg.LogLevel)
	}
	if cfg.TraceFile != "" {
		t.Fatalf("trace log must be off by default, got %q", cfg.TraceFile)
	}
	if cfg.NotifyConcurrency != 4 {
		t.Fatalf("expected notify concurrency 4, got %d", cfg.NotifyConcurrency)
	}
}

func TestLoadReadsPrefixedVariables(t *testing.T) {
	t.Setenv("SANTA_STORAGE_DRIVER", "sqlite")
	t.Setenv("SANTA_SQLITE_PATH", "/tmp/santa.db")
	t.Setenv("SANTA_BLOB_DRIVER", "s3")
	t.Setenv("SANTA_BLOB_S3_BUCKET", "archives")
	t.Setenv("SANTA_BLOB_S3_PATH_STYLE", "true")
	t.Setenv("SANTA_LOG_LEVEL", "debug")
	t.Setenv("SANTA_LOCALE", "sv")
	t.Setenv("SANTA_TRACE_FILE", "/tmp/santa-trace.jsonl")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	st := cfg.Storage()
	if st.Driver != core.StorageSQLite || st.SQLitePath != "/tmp/santa.db" {
		t.Fatalf("unexpected storage config %+v", st)
	}
	bc := cfg.Blob()
	if bc.Driver != blob.DriverS3 || bc.S3.Bucket != "archives" || !bc.S3.PathStyle || bc.S3.Region != "us-east-1" {
		t.Fatalf("unexpected blob config %+v", bc)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.LogLevel)
	}
	if cfg.TraceFile != "/tmp/santa-trace.jsonl" {
		t.Fatalf("expected trace file, got %q", cfg.TraceFile)
	}
	if cfg.Language() != language.Swedish {
		t.Fatalf("expected swedish collation, got %v", cfg.Language())
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("SANTA_HISTORY_LOOKBACK", "not-an-int")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cases := map[string]func(*Config){
		"unknown storage":  func(c *Config) { c.StorageDriver = "redis" },
		"postgres no dsn":  func(c *Config) { c.StorageDriver = "postgres" },
		"unknown blob":     func(c *Config) { c.BlobDriver = "ftp" },
		"s3 no bucket":     func(c *Config) { c.BlobDriver = "s3" },
		"negative history": func(c *Config) { c.HistoryLookback = -1 },
		"bad locale":       func(c *Config) { c.Locale = "not a tag!" },
		"bad log format":   func(c *Config) { c.LogFormat = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	ok := base
	ok.StorageDriver = "postgres"
	ok.PostgresDSN = "postgres://localhost/santa"
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
