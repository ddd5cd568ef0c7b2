package core

import (
	"context"
	"path/filepath"
	"testing"

	"secretsanta/internal/infra/persistence/file"
	"secretsanta/internal/infra/persistence/sqlite"
	"secretsanta/pkg/domain"
)

func TestOpenStateStoreDrivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := OpenStateStore(ctx, StorageConfig{StatePath: filepath.Join(dir, "state.json")}, nil)
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	if _, ok := fs.(*file.Store); !ok {
		t.Fatalf("expected file store by default, got %T", fs)
	}

	ss, err := OpenStateStore(ctx, StorageConfig{Driver: StorageSQLite, SQLitePath: filepath.Join(dir, "state.db")}, nil)
	if err != nil {
		t.Fatalf("sqlite driver: %v", err)
	}
	if _, ok := ss.(*sqlite.Store); !ok {
		t.Fatalf("expected sqlite store, got %T", ss)
	}
	t.Cleanup(func() { _ = ss.Close() })

	mem, err := OpenStateStore(ctx, StorageConfig{Driver: StorageMemory}, nil)
	if err != nil || mem != nil {
		t.Fatalf("memory driver must return no persister, got %v %v", mem, err)
	}

	if _, err := OpenStateStore(ctx, StorageConfig{Driver: StoragePostgres}, nil); err == nil {
		t.Fatalf("expected error for postgres without DSN")
	}
	if _, err := OpenStateStore(ctx, StorageConfig{Driver: "mongo"}, nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

type staticStateStore struct {
	ev     domain.Event
	report domain.LoadReport
	saved  int
}

func (s *staticStateStore) Load(context.Context) (domain.Event, domain.LoadReport) {
	return s.ev, s.report
}
func (s *staticStateStore) Save(context.Context, domain.Event) error   { s.saved++; return nil }
func (s *staticStateStore) Backup(context.Context, domain.Event) error { return nil }
func (s *staticStateStore) Close() error                               { return nil }

func TestOpenGuardLogsFallbacks(t *testing.T) {
	ev := domain.NewEvent(2022)
	ev.Participants["a"] = "A"
	persister := &staticStateStore{ev: ev, report: domain.LoadReport{
		Source:   domain.LoadBackup,
		Repaired: []string{"wishlists"},
		Failures: []error{&domain.StateCorruptionError{Tier: domain.LoadPrimary}},
	}}
	log := &captureLogger{}
	guard := OpenGuard(context.Background(), persister, nil, fixedClock(), log)
	if guard.Current().Participants["a"] != "A" {
		t.Fatalf("expected loaded event")
	}
	if !log.saw("w:state tier unreadable") || !log.saw("i:state repaired") {
		t.Fatalf("expected fallback logs, got %v", log.calls)
	}

	svc := NewService(guard, WithClock(fixedClock()))
	if _, _, err := svc.StartEvent(context.Background(), 2024); err != nil {
		t.Fatalf("start: %v", err)
	}
	if persister.saved != 1 {
		t.Fatalf("expected commit to save through persister, saved %d", persister.saved)
	}
}

func TestOpenGuardWithoutPersister(t *testing.T) {
	guard := OpenGuard(context.Background(), nil, nil, fixedClock(), nil)
	if guard.Current().Year != 2024 {
		t.Fatalf("expected default event for clock year, got %d", guard.Current().Year)
	}
}
