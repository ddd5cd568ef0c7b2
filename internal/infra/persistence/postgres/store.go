// Package postgres provides a Postgres-backed StateStore that keeps the event
// snapshot in a JSONB column.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"secretsanta/internal/infra/persistence/snapshot"
	"secretsanta/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.SharedStateStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/secretsanta?sslmode=disable"

	bucketEvent  = "event"
	bucketBackup = "event_backup"

	// stateLockKey is the pg_advisory_lock key guarding the event row.
	stateLockKey int64 = 0x53616e7461
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists the event to Postgres, one row per bucket.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN) and ensures the state table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

// Load implements domain.StateStore.
func (s *Store) Load(ctx context.Context) (domain.Event, domain.LoadReport) {
	return snapshot.Load(ctx, s, domain.NewEvent(s.now().UTC().Year()))
}

// ReadPrimary implements snapshot.TierReader.
func (s *Store) ReadPrimary(ctx context.Context) ([]byte, error) { return s.read(ctx, bucketEvent) }

// ReadBackup implements snapshot.TierReader.
func (s *Store) ReadBackup(ctx context.Context) ([]byte, error) { return s.read(ctx, bucketBackup) }

func (s *Store) read(ctx context.Context, bucket string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = $1`, bucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snapshot.ErrMissing
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", bucket, err)
	}
	return payload, nil
}

// Save implements domain.StateStore.
func (s *Store) Save(ctx context.Context, event domain.Event) error {
	return s.persist(ctx, bucketEvent, event)
}

// Backup implements domain.StateStore.
func (s *Store) Backup(ctx context.Context, event domain.Event) error {
	return s.persist(ctx, bucketBackup, event)
}

func (s *Store) persist(ctx context.Context, bucket string, event domain.Event) error {
	data, err := snapshot.Encode(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if bucket == bucketEvent {
		var stored []byte
		err := tx.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = $1 FOR UPDATE`, bucket).Scan(&stored)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("select %s: %w", bucket, err)
		}
		if err := snapshot.CheckRevision(stored, event); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
		return fmt.Errorf("upsert %s: %w", bucket, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Lock takes a session-level advisory lock on a dedicated connection. The
// connection is returned to the pool once the lock is released.
func (s *Store) Lock(ctx context.Context) (func() error, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock state: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, stateLockKey); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("lock state: %w", err)
	}
	return func() error {
		_, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, stateLockKey)
		return errors.Join(err, conn.Close())
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
