// Package file implements the default JSON file StateStore.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"secretsanta/internal/infra/persistence/snapshot"
	"secretsanta/pkg/domain"
)

const lockRetry = 20 * time.Millisecond

// Logger receives warnings the store recovers from.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

type discardLogger struct{}

func (discardLogger) Warn(string, ...any) {}

// syncDir flushes directory entries after a rename.
var syncDir = fsyncDir

// Store keeps the canonical event at path and a secondary copy at
// path + ".backup". Writes go through a temp file in the same directory that
// is fsynced and renamed over the target, so readers never see a partial file.
// Processes sharing path serialize through an advisory lock on path + ".lock".
type Store struct {
	mu     sync.Mutex
	path   string
	backup string
	lock   *flock.Flock
	now    func() time.Time
	logger Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp default events.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger receives directory sync failures that follow a completed rename.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore constructs a file-backed state store, creating parent directories.
func NewStore(path string, opts ...Option) (*Store, error) {
	if path == "" {
		path = "secret_santa_state.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	s := &Store{
		path:   path,
		backup: path + ".backup",
		lock:   flock.New(path + ".lock"),
		now:    time.Now,
		logger: discardLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the canonical state path.
func (s *Store) Path() string { return s.path }

// BackupPath returns the backup tier path.
func (s *Store) BackupPath() string { return s.backup }

// Load reads the canonical file, falling back to the backup and then a fresh
// event for the current year.
func (s *Store) Load(ctx context.Context) (domain.Event, domain.LoadReport) {
	return snapshot.Load(ctx, s, domain.NewEvent(s.now().UTC().Year()))
}

// ReadPrimary implements snapshot.TierReader.
func (s *Store) ReadPrimary(context.Context) ([]byte, error) { return readTier(s.path) }

// ReadBackup implements snapshot.TierReader.
func (s *Store) ReadBackup(context.Context) ([]byte, error) { return readTier(s.backup) }

func readTier(path string) ([]byte, error) {
	// #nosec G304 -- path is operator configuration
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, snapshot.ErrMissing
	}
	return data, err
}

// Lock blocks until this process holds the advisory lock on the state file.
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

// Save atomically replaces the canonical file. A canonical file already at
// event's revision or later fails with domain.ConcurrentModificationError.
// When the write fails the previous file is left intact and a best-effort
// backup copy of event is attempted before the original error is returned.
func (s *Store) Save(ctx context.Context, event domain.Event) error {
	data, err := snapshot.Encode(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if stored, err := readTier(s.path); err == nil {
		if err := snapshot.CheckRevision(stored, event); err != nil {
			return err
		}
	}
	if err := s.write(s.path, data); err != nil {
		if bErr := s.write(s.backup, data); bErr != nil {
			return fmt.Errorf("save state: %w (backup also failed: %v)", err, bErr)
		}
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Backup writes the secondary copy.
func (s *Store) Backup(ctx context.Context, event domain.Event) error {
	data, err := snapshot.Encode(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.write(s.backup, data); err != nil {
		return fmt.Errorf("backup state: %w", err)
	}
	return nil
}

// Close releases the advisory lock if it is still held.
func (s *Store) Close() error { return s.lock.Close() }

// write replaces path with data. Once the rename has landed the new content is
// canonical, so a failed directory sync is only logged.
func (s *Store) write(path string, data []byte) error {
	err := writeAtomic(path, data)
	var syncErr *dirSyncError
	if errors.As(err, &syncErr) {
		s.logger.Warn("state directory sync failed", "path", path, "error", syncErr.err)
		return nil
	}
	return err
}

type dirSyncError struct{ err error }

func (e *dirSyncError) Error() string { return "sync dir: " + e.err.Error() }
func (e *dirSyncError) Unwrap() error { return e.err }

func writeAtomic(path string, data []byte) (retErr error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	if err := syncDir(dir); err != nil {
		return &dirSyncError{err: err}
	}
	return nil
}

func fsyncDir(dir string) error {
	// #nosec G304 -- directory of the configured state path
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}

var _ domain.SharedStateStore = (*Store)(nil)
var _ snapshot.TierReader = (*Store)(nil)
