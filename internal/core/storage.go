package core

import (
	"context"
	"fmt"
	"time"

	"secretsanta/internal/infra/persistence/file"
	"secretsanta/internal/infra/persistence/memory"
	"secretsanta/internal/infra/persistence/postgres"
	"secretsanta/internal/infra/persistence/sqlite"
	"secretsanta/pkg/domain"
)

// StorageDriver identifies a concrete StateStore implementation.
type StorageDriver string

const (
	StorageFile     StorageDriver = "file"     // JSON file with .backup sibling (default)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageMemory   StorageDriver = "memory"   // no durable medium (tests / ephemeral)
)

// StorageConfig selects and configures the durable medium for the active event.
type StorageConfig struct {
	Driver      StorageDriver
	StatePath   string
	SQLitePath  string
	PostgresDSN string
	// Logger receives recoverable storage warnings. Optional.
	Logger Logger
}

// OpenStateStore constructs the configured StateStore. The memory driver
// returns a nil store: the guard then keeps the event in memory only.
func OpenStateStore(ctx context.Context, cfg StorageConfig, clock Clock) (domain.StateStore, error) {
	if clock == nil {
		clock = ClockFunc(nil)
	}
	driver := cfg.Driver
	if driver == "" {
		driver = StorageFile
	}
	switch driver {
	case StorageMemory:
		return nil, nil
	case StorageFile:
		fs, err := file.NewStore(cfg.StatePath, file.WithClock(clock.Now), file.WithLogger(cfg.Logger))
		if err != nil {
			return nil, fmt.Errorf("open file state: %w", err)
		}
		return fs, nil
	case StorageSQLite:
		ss, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite state: %w", err)
		}
		return ss, nil
	case StoragePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN")
		}
		ps, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres state: %w", err)
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenGuard loads the active event from persister (when set) and wraps it in
// the serialized in-memory store. Load fallbacks are logged at warn level.
func OpenGuard(ctx context.Context, persister domain.StateStore, engine *RulesEngine, clock Clock, logger Logger) *memory.Store {
	if clock == nil {
		clock = ClockFunc(nil)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	now := func() time.Time { return clock.Now() }
	if persister == nil {
		return memory.NewStore(engine, memory.WithClock(now))
	}
	store, report := memory.Open(ctx, persister, engine, memory.WithClock(now))
	logLoadReport(logger, report)
	return store
}

func logLoadReport(logger Logger, report domain.LoadReport) {
	for _, failure := range report.Failures {
		logger.Warn("state tier unreadable", "error", failure)
	}
	if len(report.Repaired) > 0 {
		logger.Info("state repaired", "fields", report.Repaired, "source", string(report.Source))
	}
	if report.Err != nil {
		logger.Warn("state reset to default", "error", report.Err)
		return
	}
	logger.Debug("state loaded", "source", string(report.Source))
}
