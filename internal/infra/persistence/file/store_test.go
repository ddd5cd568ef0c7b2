package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
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
	ev.Wishlists["a"] = []string{"tea", "book"}
	return ev
}

func TestSaveThenLoadIsIdentical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "santa.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ev := sampleEvent()
	if err := store.Save(context.Background(), ev); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, report := store.Load(context.Background())
	if report.Source != domain.LoadPrimary {
		t.Fatalf("expected primary tier, got %s", report.Source)
	}
	if !reflect.DeepEqual(got, ev) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", ev, got)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoadFallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "santa.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ev := sampleEvent()
	if err := store.Backup(context.Background(), ev); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"year": 20`), 0o600); err != nil {
		t.Fatalf("corrupt primary: %v", err)
	}
	got, report := store.Load(context.Background())
	if report.Source != domain.LoadBackup {
		t.Fatalf("expected backup tier, got %s", report.Source)
	}
	if len(report.Failures) != 1 || report.Err != nil {
		t.Fatalf("expected one recovered failure, got %+v", report)
	}
	if got.Participants["a"] != "Alice" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestLoadDefaultsOnFreshInstall(t *testing.T) {
	fixed := time.Date(2031, 12, 1, 0, 0, 0, 0, time.UTC)
	store, err := NewStore(filepath.Join(t.TempDir(), "santa.json"), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ev, report := store.Load(context.Background())
	if report.Source != domain.LoadDefault || report.Err != nil {
		t.Fatalf("expected quiet default, got %+v", report)
	}
	if ev.Year != 2031 || ev.Active || ev.Participants == nil {
		t.Fatalf("unexpected default event %+v", ev)
	}
}

func TestLoadDefaultsWhenBothTiersCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "santa.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(store.BackupPath(), []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, report := store.Load(context.Background())
	if report.Source != domain.LoadDefault || report.Err == nil {
		t.Fatalf("expected escalated default, got %+v", report)
	}
}

func TestSaveFailureKeepsPreviousStateAndWritesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "santa.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	first := sampleEvent()
	if err := store.Save(context.Background(), first); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A directory at the canonical path makes the rename fail.
	blocked := filepath.Join(dir, "blocked")
	if err := os.MkdirAll(filepath.Join(blocked, "santa.json", "child"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	other := &Store{path: filepath.Join(blocked, "santa.json"), backup: path + ".backup", now: time.Now, logger: discardLogger{}}
	second := sampleEvent()
	second.Participants["c"] = "Carol"
	if err := other.Save(context.Background(), second); err == nil {
		t.Fatalf("expected save failure")
	}
	got, report := store.Load(context.Background())
	if report.Source != domain.LoadPrimary || len(got.Participants) != 2 {
		t.Fatalf("previous canonical state must survive, got %+v", got)
	}
	backup, err := store.ReadBackup(context.Background())
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !strings.Contains(string(backup), "Carol") {
		t.Fatalf("expected failed save to land in backup tier")
	}
}

func TestSaveHonorsCancelledContext(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "santa.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Save(ctx, sampleEvent()); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSaveRejectsStaleRevision(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "santa.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	alice := sampleEvent()
	alice.Revision = 2
	alice.Participants["c"] = "Carol"
	if err := store.Save(ctx, alice); err != nil {
		t.Fatalf("save: %v", err)
	}
	bob := sampleEvent()
	bob.Revision = 2
	bob.Participants["d"] = "Dave"
	var conflict *domain.ConcurrentModificationError
	if err := store.Save(ctx, bob); !errors.As(err, &conflict) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	got, _ := store.Load(ctx)
	if got.Participants["c"] != "Carol" || got.Participants["d"] != "" {
		t.Fatalf("stale write must not replace the newer file, got %v", got.Participants)
	}
	bob.Revision = 3
	if err := store.Save(ctx, bob); err != nil {
		t.Fatalf("newer revision must save: %v", err)
	}
}

type warnRecorder struct{ msgs []string }

func (w *warnRecorder) Warn(msg string, _ ...any) { w.msgs = append(w.msgs, msg) }

func TestSaveSucceedsWhenDirectorySyncFailsAfterRename(t *testing.T) {
	prev := syncDir
	syncDir = func(string) error { return errors.New("sync unsupported") }
	t.Cleanup(func() { syncDir = prev })

	logs := &warnRecorder{}
	store, err := NewStore(filepath.Join(t.TempDir(), "santa.json"), WithLogger(logs))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ev := sampleEvent()
	if err := store.Save(context.Background(), ev); err != nil {
		t.Fatalf("renamed state is canonical, save must succeed: %v", err)
	}
	if err := store.Backup(context.Background(), ev); err != nil {
		t.Fatalf("backup: %v", err)
	}
	got, report := store.Load(context.Background())
	if report.Source != domain.LoadPrimary || !reflect.DeepEqual(got, ev) {
		t.Fatalf("expected saved event on disk, got %+v", report)
	}
	if len(logs.msgs) != 2 {
		t.Fatalf("expected a warning per sync failure, got %v", logs.msgs)
	}
}

func TestLockExcludesOtherHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "santa.json")
	first, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	second, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
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
	again, err := second.Lock(context.Background())
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	if err := again(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
