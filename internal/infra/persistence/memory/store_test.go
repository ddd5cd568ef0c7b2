package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"secretsanta/pkg/domain"
)

type recordingPersister struct {
	mu       sync.Mutex
	saves    []domain.Event
	backups  []domain.Event
	inflight atomic.Int32
	overlap  atomic.Bool
	failSave error
	block    chan struct{}
	entered  chan struct{}
	loaded   domain.Event
}

func (p *recordingPersister) Load(context.Context) (domain.Event, domain.LoadReport) {
	return p.loaded, domain.LoadReport{Source: domain.LoadPrimary}
}

func (p *recordingPersister) Save(_ context.Context, ev domain.Event) error {
	if p.inflight.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.inflight.Add(-1)
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	if p.failSave != nil {
		return p.failSave
	}
	p.mu.Lock()
	p.saves = append(p.saves, ev.Clone())
	p.mu.Unlock()
	return nil
}

func (p *recordingPersister) Backup(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	p.backups = append(p.backups, ev.Clone())
	p.mu.Unlock()
	return nil
}

func (p *recordingPersister) Close() error { return nil }

func activeEvent() domain.Event {
	ev := domain.NewEvent(2024)
	ev.Active = true
	return ev
}

func TestStoreRunInTransactionCommitsAndPersists(t *testing.T) {
	persister := &recordingPersister{}
	fixed := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore(nil, WithPersister(persister), WithEvent(activeEvent()), WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.AddParticipant("a", "Alice"); err != nil {
			return err
		}
		if err := tx.AddParticipant("b", "Bob"); err != nil {
			return err
		}
		if _, ok := tx.Snapshot().FindParticipant("a"); !ok {
			t.Fatalf("snapshot should see pending participant")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	current := store.Current()
	if len(current.Participants) != 2 || current.Revision != 1 || !current.UpdatedAt.Equal(fixed) {
		t.Fatalf("unexpected committed event %+v", current)
	}
	if len(persister.saves) != 1 || persister.saves[0].Revision != 1 {
		t.Fatalf("expected one save of revision 1, got %+v", persister.saves)
	}
	if store.RulesEngine() == nil || store.NowFunc() == nil {
		t.Fatalf("expected engine and clock")
	}
}

func TestStoreNoChangesSkipsSave(t *testing.T) {
	persister := &recordingPersister{}
	store := NewStore(nil, WithPersister(persister))
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(persister.saves) != 0 || store.Current().Revision != 0 {
		t.Fatalf("read-only transaction must not persist")
	}
}

func TestStoreFailedMutationLeavesStateUntouched(t *testing.T) {
	store := NewStore(nil, WithEvent(activeEvent()))
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if err := tx.AddParticipant("a", "Alice"); err != nil {
			return err
		}
		return tx.RemoveParticipant("ghost")
	})
	if !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(store.Current().Participants) != 0 {
		t.Fatalf("partial mutation leaked")
	}
}

func TestStorePersistFailureDoesNotPublish(t *testing.T) {
	persister := &recordingPersister{failSave: errors.New("disk full")}
	store := NewStore(nil, WithPersister(persister), WithEvent(activeEvent()))
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.AddParticipant("a", "Alice")
	})
	if err == nil {
		t.Fatalf("expected persist error")
	}
	if cur := store.Current(); len(cur.Participants) != 0 || cur.Revision != 0 {
		t.Fatalf("failed save must not publish, got %+v", cur)
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.AddParticipant("a", "Alice")
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if len(store.Current().Participants) != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }
func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

func TestStoreSerializesConcurrentMutations(t *testing.T) {
	persister := &recordingPersister{}
	store := NewStore(nil, WithPersister(persister), WithEvent(activeEvent()))
	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%02d", i)
			_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
				if err := tx.AddParticipant(id, id); err != nil {
					return err
				}
				return tx.SetAssignments(map[string]string{id: "x"})
			})
			if err != nil {
				t.Errorf("transaction %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if persister.overlap.Load() {
		t.Fatalf("saves overlapped")
	}
	current := store.Current()
	if current.Revision != workers || len(current.Participants) != workers {
		t.Fatalf("expected %d serialized commits, got revision %d with %d participants", workers, current.Revision, len(current.Participants))
	}
	if len(current.Assignments) != 1 {
		t.Fatalf("assignments must be one whole map, got %v", current.Assignments)
	}
	last := persister.saves[len(persister.saves)-1]
	if last.Revision != current.Revision || len(last.Assignments) != 1 {
		t.Fatalf("last persisted map must equal the last applied mutation")
	}
	for giver := range current.Assignments {
		if last.Assignments[giver] != "x" {
			t.Fatalf("persisted map diverged from committed map")
		}
	}
}

func TestStoreCurrentDoesNotBlockOnInflightSave(t *testing.T) {
	persister := &recordingPersister{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	store := NewStore(nil, WithPersister(persister), WithEvent(activeEvent()))
	done := make(chan error, 1)
	go func() {
		_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			return tx.AddParticipant("a", "Alice")
		})
		done <- err
	}()
	<-persister.entered
	if got := store.Current(); len(got.Participants) != 0 {
		t.Fatalf("in-flight mutation must not be visible, got %+v", got.Participants)
	}
	if err := store.View(context.Background(), func(v domain.TransactionView) error {
		if _, ok := v.FindParticipant("a"); ok {
			return errors.New("uncommitted participant visible")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	close(persister.block)
	if err := <-done; err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if _, ok := store.Current().Participants["a"]; !ok {
		t.Fatalf("expected committed participant")
	}
}

func TestStoreOpenAndBackup(t *testing.T) {
	loaded := activeEvent()
	loaded.Participants["a"] = "Alice"
	loaded.Revision = 7
	persister := &recordingPersister{loaded: loaded}
	store, report := Open(context.Background(), persister, nil)
	if report.Source != domain.LoadPrimary {
		t.Fatalf("unexpected report %+v", report)
	}
	if cur := store.Current(); cur.Revision != 7 || cur.Participants["a"] != "Alice" {
		t.Fatalf("expected hydrated event, got %+v", cur)
	}
	if err := store.Backup(context.Background()); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if len(persister.backups) != 1 || persister.backups[0].Revision != 7 {
		t.Fatalf("expected backup of committed event, got %+v", persister.backups)
	}
	if err := NewStore(nil).Backup(context.Background()); err != nil {
		t.Fatalf("backup without persister should be a no-op: %v", err)
	}
}

func TestTransactionOperations(t *testing.T) {
	store := NewStore(nil, WithEvent(activeEvent()))
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, id := range []string{"a", "b"} {
			if err := tx.AddParticipant(id, id); err != nil {
				return err
			}
		}
		if err := tx.AddParticipant("a", "dup"); !errors.Is(err, domain.ErrParticipantExists) {
			return fmt.Errorf("expected duplicate error, got %v", err)
		}
		if err := tx.AddParticipant("  ", "blank"); err == nil {
			return errors.New("expected blank id error")
		}
		if err := tx.SetAssignments(map[string]string{"a": "b", "b": "a"}); err != nil {
			return err
		}
		if err := tx.CloseJoin(); err != nil {
			return err
		}
		if err := tx.RecordGift("a", domain.GiftSubmission{Gift: "socks", ReceiverID: "b"}); err != nil {
			return err
		}
		if err := tx.AppendMessage("a", "b", domain.Message{Type: domain.MessageQuestion, Message: "size?"}); err != nil {
			return err
		}
		if err := tx.SetWishlist("b", []string{"book"}); err != nil {
			return err
		}
		if err := tx.SetWishlist("zz", []string{"x"}); !errors.Is(err, domain.ErrParticipantNotFound) {
			return fmt.Errorf("expected not found, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	cur := store.Current()
	if !cur.JoinClosed || cur.Assignments["a"] != "b" || cur.GiftSubmissions["a"].SubmittedAt.IsZero() {
		t.Fatalf("unexpected event %+v", cur)
	}
	if thread := cur.Communications["a"].Thread; len(thread) != 1 || thread[0].Timestamp.IsZero() {
		t.Fatalf("unexpected thread %+v", thread)
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.SetWishlist("b", nil); err != nil {
			return err
		}
		return tx.Reset(domain.NewEvent(2025))
	})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	cur = store.Current()
	if cur.Year != 2025 || cur.Active || len(cur.Participants) != 0 || cur.Revision != 2 {
		t.Fatalf("expected fresh event with carried revision, got %+v", cur)
	}
}

type sharedPersister struct {
	recordingPersister
	locks    int
	releases int
	lockErr  error
}

func (p *sharedPersister) Lock(context.Context) (func() error, error) {
	if p.lockErr != nil {
		return nil, p.lockErr
	}
	p.locks++
	return func() error { p.releases++; return nil }, nil
}

func TestStoreAdoptsNewerRevisionFromSharedPersister(t *testing.T) {
	start := activeEvent()
	start.Revision = 3
	persister := &sharedPersister{recordingPersister: recordingPersister{loaded: start}}
	store, _ := Open(context.Background(), persister, nil)

	external := start.Clone()
	external.Participants["bob"] = "Bob"
	external.Revision = 4
	persister.loaded = external

	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.AddParticipant("alice", "Alice")
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	cur := store.Current()
	if cur.Revision != 5 || cur.Participants["bob"] != "Bob" || cur.Participants["alice"] != "Alice" {
		t.Fatalf("expected commit on top of revision 4, got rev=%d participants=%v", cur.Revision, cur.Participants)
	}
	if persister.locks != 1 || persister.releases != 1 {
		t.Fatalf("expected one lock and release, got %d/%d", persister.locks, persister.releases)
	}

	older := start.Clone()
	older.Revision = 1
	persister.loaded = older
	if err := store.Backup(context.Background()); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if got := persister.backups[len(persister.backups)-1]; got.Revision != 5 {
		t.Fatalf("older persisted revision must not replace memory, backed up rev %d", got.Revision)
	}
}

func TestStoreSurfacesSharedLockFailure(t *testing.T) {
	persister := &sharedPersister{lockErr: errors.New("lock busy")}
	persister.loaded = activeEvent()
	store, _ := Open(context.Background(), persister, nil)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.AddParticipant("alice", "Alice")
	})
	if err == nil || !errors.Is(err, persister.lockErr) {
		t.Fatalf("expected lock failure, got %v", err)
	}
	if len(persister.saves) != 0 {
		t.Fatalf("nothing may be saved without the lock")
	}
}
