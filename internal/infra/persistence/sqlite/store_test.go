package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"secretsanta/pkg/domain"
)

func sampleEvent() domain.Event {
	ev := domain.NewEvent(2024)
	ev.Active = true
	ev.Participants["a"] = "Alice"
	ev.Participants["b"] = "Bob"
	ev.Assignments["a"] = "b"
	ev.Assignments["b"] = "a"
	return ev
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store := openStore(t, path)
	ev := sampleEvent()
	if err := store.Save(context.Background(), ev); err != nil {
		t.Fatalf("save: %v", err)
	}
	ev.Participants["c"] = "Carol"
	if err := store.Save(context.Background(), ev); err != nil {
		t.Fatalf("second save: %v", err)
	}
	reloaded := openStore(t, path)
	got, report := reloaded.Load(context.Background())
	if report.Source != domain.LoadPrimary {
		t.Fatalf("expected primary tier, got %s", report.Source)
	}
	if !reflect.DeepEqual(got, ev) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", ev, got)
	}
	var rows int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state WHERE bucket = ?`, bucketEvent).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected upsert to keep a single row, got %d", rows)
	}
}

func TestSQLiteStoreFallsBackToBackupRow(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	if err := store.Backup(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO state(bucket,payload) VALUES(?,?)`, bucketEvent, []byte("{broken")); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}
	got, report := store.Load(context.Background())
	if report.Source != domain.LoadBackup || len(report.Failures) != 1 {
		t.Fatalf("expected backup tier after one failure, got %+v", report)
	}
	if got.Participants["a"] != "Alice" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestSQLiteStoreDefaultsWhenEmpty(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "nested", "state.db"))
	ev, report := store.Load(context.Background())
	if report.Source != domain.LoadDefault || report.Err != nil {
		t.Fatalf("expected quiet default, got %+v", report)
	}
	if ev.Participants == nil || ev.Active {
		t.Fatalf("unexpected default %+v", ev)
	}
}

func TestSQLiteStoreRejectsStaleRevision(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	ctx := context.Background()
	ev := sampleEvent()
	ev.Revision = 2
	if err := store.Save(ctx, ev); err != nil {
		t.Fatalf("save: %v", err)
	}
	stale := ev.Clone()
	stale.Participants["c"] = "Carol"
	var conflict *domain.ConcurrentModificationError
	if err := store.Save(ctx, stale); !errors.As(err, &conflict) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	got, _ := store.Load(ctx)
	if _, ok := got.Participants["c"]; ok {
		t.Fatalf("stale write must be rolled back")
	}
}

func TestSQLiteStoreLockExcludesOtherHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	first := openStore(t, path)
	second := openStore(t, path)
	release, err := first.Lock(context.Background())
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := second.Lock(ctx); err == nil {
		t.Fatalf("second handle must wait while the lock is held")
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}
