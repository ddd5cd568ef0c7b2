// Package sqlite provides a StateStore that keeps the event snapshot in a
// single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"secretsanta/internal/infra/persistence/snapshot"
	"secretsanta/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const (
	bucketEvent  = "event"
	bucketBackup = "event_backup"
)

const lockRetry = 20 * time.Millisecond

// Store persists the event as a JSON blob keyed by bucket. Every write is a
// single-row upsert inside a transaction, so a crash leaves the previous row.
// Processes sharing the database serialize through an advisory lock file.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	lock *flock.Flock
	now  func() time.Time
}

// NewStore opens (or creates) the database at path and ensures the state table.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "secretsanta.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{db: db, path: path, lock: flock.New(path + ".lock"), now: time.Now}, nil
}

// Load implements domain.StateStore.
func (s *Store) Load(ctx context.Context) (domain.Event, domain.LoadReport) {
	return snapshot.Load(ctx, s, domain.NewEvent(s.now().UTC().Year()))
}

// ReadPrimary implements snapshot.TierReader.
func (s *Store) ReadPrimary(ctx context.Context) ([]byte, error) {
	return s.read(ctx, bucketEvent)
}

// ReadBackup implements snapshot.TierReader.
func (s *Store) ReadBackup(ctx context.Context) ([]byte, error) {
	return s.read(ctx, bucketBackup)
}

func (s *Store) read(ctx context.Context, bucket string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, bucket).Scan(&payload)
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

func (s *Store) persist(ctx context.Context, bucket string, event domain.Event) (retErr error) {
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
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if bucket == bucketEvent {
		var stored []byte
		err := tx.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, bucket).Scan(&stored)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("select %s: %w", bucket, err)
		}
		if err := snapshot.CheckRevision(stored, event); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
		return fmt.Errorf("upsert %s: %w", bucket, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Lock blocks until this process holds the advisory lock beside the database.
func (s *Store) Lock(ctx context.Context) (func() error, error) {
	ok, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: not acquired", s.lock.Path())
	}
	return s.lock.Unlock, nil
}

// Close releases the database handle and any held lock.
func (s *Store) Close() error {
	return errors.Join(s.lock.Close(), s.db.Close())
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

var _ domain.SharedStateStore = (*Store)(nil)
