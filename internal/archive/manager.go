// Package archive keeps finalized events as immutable per-year records on a
// blob store. Records are never overwritten: collisions go to a side file plus
// a backup copy, and delete/restore only copy between the live and backup areas.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"secretsanta/internal/blob"
	"secretsanta/pkg/domain"
)

const (
	contentTypeJSON = "application/json"
	maxKeyAttempts  = 8
)

// SkipFunc is told about canonical records that could not be decoded.
type SkipFunc func(key string, err error)

// Manager is the archive collection.
type Manager struct {
	store  blob.Store
	now    func() time.Time
	onSkip SkipFunc
	mu     sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for archived_at and key timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSkipHandler registers a callback for unreadable records skipped by List.
func WithSkipHandler(fn SkipFunc) Option {
	return func(m *Manager) { m.onSkip = fn }
}

// NewManager returns a Manager writing to store.
func NewManager(store blob.Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Archive freezes event into the record for event.Year. If a record already
// exists, the snapshot is written to a timestamped side file and a backup copy
// and the returned error is a *domain.ArchiveCollisionWarning; the existing
// record is left untouched.
func (m *Manager) Archive(ctx context.Context, event domain.Event) (domain.ArchiveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.now().UTC()
	rec := domain.ArchiveRecord{Year: event.Year, ArchivedAt: at, Event: event.Clone()}
	data, err := encodeRecord(rec)
	if err != nil {
		return domain.ArchiveRecord{}, err
	}
	meta := map[string]string{"year": fmt.Sprint(rec.Year)}
	_, err = m.store.Put(ctx, recordKey(rec.Year), bytes.NewReader(data), blob.PutOptions{ContentType: contentTypeJSON, Metadata: meta})
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, blob.ErrExists) {
		return domain.ArchiveRecord{}, fmt.Errorf("write archive %d: %w", rec.Year, err)
	}
	side, err := m.putUnique(ctx, collisionKey(rec.Year, at), data, meta)
	if err != nil {
		return domain.ArchiveRecord{}, fmt.Errorf("write collision side file %d: %w", rec.Year, err)
	}
	backup, err := m.putUnique(ctx, backupKey(rec.Year, BackupCollision, at), data, meta)
	if err != nil {
		return domain.ArchiveRecord{}, fmt.Errorf("write collision backup %d: %w", rec.Year, err)
	}
	return rec, &domain.ArchiveCollisionWarning{Year: rec.Year, SideKey: side, BackupKey: backup}
}

// Exists reports whether a canonical record for year is present.
func (m *Manager) Exists(ctx context.Context, year int) (bool, error) {
	if _, err := m.store.Head(ctx, recordKey(year)); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get returns the canonical record for year.
func (m *Manager) Get(ctx context.Context, year int) (domain.ArchiveRecord, error) {
	data, err := m.read(ctx, recordKey(year))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return domain.ArchiveRecord{}, fmt.Errorf("%w: %d", domain.ErrArchiveNotFound, year)
		}
		return domain.ArchiveRecord{}, err
	}
	return decodeRecord(data, year)
}

// List returns every canonical record ordered by year. Only keys shaped
// records/YYYY.json are read. Unreadable records are skipped and reported to
// the skip handler.
func (m *Manager) List(ctx context.Context) ([]domain.ArchiveRecord, error) {
	infos, err := m.store.List(ctx, recordsPrefix)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	out := make([]domain.ArchiveRecord, 0, len(infos))
	for _, info := range infos {
		year, ok := yearFromRecordKey(info.Key)
		if !ok {
			continue
		}
		data, err := m.read(ctx, info.Key)
		if err == nil {
			var rec domain.ArchiveRecord
			if rec, err = decodeRecord(data, year); err == nil {
				out = append(out, rec)
				continue
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if m.onSkip != nil {
			m.onSkip(info.Key, err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

// Years lists the years with a canonical record.
func (m *Manager) Years(ctx context.Context) ([]int, error) {
	infos, err := m.store.List(ctx, recordsPrefix)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	var years []int
	for _, info := range infos {
		if year, ok := yearFromRecordKey(info.Key); ok {
			years = append(years, year)
		}
	}
	sort.Ints(years)
	return years, nil
}

// Backups lists the backup copies kept for year, oldest first.
func (m *Manager) Backups(ctx context.Context, year int) ([]blob.Info, error) {
	infos, err := m.store.List(ctx, backupDir(year))
	if err != nil {
		return nil, fmt.Errorf("list backups %d: %w", year, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Delete soft-deletes the record for year: its bytes are copied into the
// backup area and only then is the canonical key removed. It returns the
// backup key.
func (m *Manager) Delete(ctx context.Context, year int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.read(ctx, recordKey(year))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return "", fmt.Errorf("%w: %d", domain.ErrArchiveNotFound, year)
		}
		return "", err
	}
	meta := map[string]string{"year": fmt.Sprint(year)}
	key, err := m.putUnique(ctx, backupKey(year, BackupDeleted, m.now()), data, meta)
	if err != nil {
		return "", fmt.Errorf("back up archive %d: %w", year, err)
	}
	if _, err := m.store.Delete(ctx, recordKey(year)); err != nil {
		return "", fmt.Errorf("remove archive %d: %w", year, err)
	}
	return key, nil
}

// Restore copies the newest backup for year back into the canonical slot,
// preferring soft-deleted records over collision copies. It refuses to
// replace an existing record and leaves the backup in place. It returns the
// backup key that was restored.
func (m *Manager) Restore(ctx context.Context, year int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exists, err := m.Exists(ctx, year)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%w: %d", domain.ErrArchiveExists, year)
	}
	backups, err := m.Backups(ctx, year)
	if err != nil {
		return "", err
	}
	source := latest(backups, BackupDeleted)
	if source == "" {
		source = latest(backups, BackupCollision)
	}
	if source == "" {
		return "", fmt.Errorf("%w: %d", domain.ErrNothingToRestore, year)
	}
	data, err := m.read(ctx, source)
	if err != nil {
		return "", err
	}
	if _, err := decodeRecord(data, year); err != nil {
		return "", fmt.Errorf("backup %s unreadable: %w", source, err)
	}
	_, err = m.store.Put(ctx, recordKey(year), bytes.NewReader(data), blob.PutOptions{ContentType: contentTypeJSON, Metadata: map[string]string{"year": fmt.Sprint(year), "restored_from": source}})
	if err != nil {
		if errors.Is(err, blob.ErrExists) {
			return "", fmt.Errorf("%w: %d", domain.ErrArchiveExists, year)
		}
		return "", fmt.Errorf("restore archive %d: %w", year, err)
	}
	return source, nil
}

func latest(infos []blob.Info, kind BackupKind) string {
	var best string
	for _, info := range infos {
		if backupKindOf(info.Key) == kind && info.Key > best {
			best = info.Key
		}
	}
	return best
}

func (m *Manager) read(ctx context.Context, key string) ([]byte, error) {
	_, rc, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// putUnique writes data at key, appending a counter when the slot is taken.
func (m *Manager) putUnique(ctx context.Context, key string, data []byte, meta map[string]string) (string, error) {
	for n := 0; n < maxKeyAttempts; n++ {
		candidate := withSuffix(key, n)
		_, err := m.store.Put(ctx, candidate, bytes.NewReader(data), blob.PutOptions{ContentType: contentTypeJSON, Metadata: meta})
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, blob.ErrExists) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free key for %s", strings.TrimSuffix(key, ".json"))
}
