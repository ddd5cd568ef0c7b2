// Package memory provides the guarded in-memory owner of the active event. All
// mutations are serialized through a single lock; the committed event is
// published through an atomic pointer so reads never block.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"secretsanta/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Event aliases domain.Event.
	Event = domain.Event
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Store serializes event mutations. When a persister is configured its Save
// runs inside the critical section, before the new event becomes visible.
type Store struct {
	mu        sync.Mutex
	current   atomic.Pointer[Event]
	engine    *RulesEngine
	persister domain.StateStore
	nowFn     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersister sets the durable medium written on every commit.
func WithPersister(p domain.StateStore) Option {
	return func(s *Store) { s.persister = p }
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithEvent seeds the store with an already loaded event.
func WithEvent(ev Event) Option {
	return func(s *Store) {
		ev = ev.Clone()
		ev.Repair()
		s.current.Store(&ev)
	}
}

// NewStore constructs a store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.current.Load() == nil {
		ev := domain.NewEvent(s.nowFn().Year())
		s.current.Store(&ev)
	}
	return s
}

// Open hydrates a store from persister using its fallback chain.
func Open(ctx context.Context, persister domain.StateStore, engine *RulesEngine, opts ...Option) (*Store, domain.LoadReport) {
	ev, report := persister.Load(ctx)
	opts = append([]Option{WithPersister(persister), WithEvent(ev)}, opts...)
	return NewStore(engine, opts...), report
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine { return s.engine }

// NowFunc returns the time provider used for commit timestamps.
func (s *Store) NowFunc() func() time.Time { return s.nowFn }

// Current returns a copy of the last committed event without taking the lock.
// It may trail an in-flight mutation.
func (s *Store) Current() Event {
	return s.current.Load().Clone()
}

// RunInTransaction clones the committed event, applies fn, evaluates rules,
// saves through the persister and only then publishes the result. Any failure
// leaves the committed event untouched.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = release() }()
	base := s.current.Load()
	tx := &transaction{
		state: base.Clone(),
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return Result{}, err
	}
	if len(tx.changes) == 0 {
		return Result{}, nil
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, transactionView{state: &tx.state}, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if latest := s.current.Load(); latest != base || latest.Revision != base.Revision {
		return result, &domain.ConcurrentModificationError{Expected: base.Revision, Actual: latest.Revision}
	}
	next := tx.state
	next.Revision = base.Revision + 1
	next.UpdatedAt = tx.now
	if s.persister != nil {
		if err := s.persister.Save(ctx, next); err != nil {
			return result, fmt.Errorf("persist event: %w", err)
		}
	}
	s.current.Store(&next)
	return result, nil
}

// View executes fn against a read-only snapshot of the committed event.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	snapshot := s.Current()
	return fn(transactionView{state: &snapshot})
}

// Backup writes the committed event to the persister's backup tier. It holds
// the guard so no commit interleaves with the copy. Shared persisters are
// reloaded first so the copy matches what other processes committed.
func (s *Store) Backup(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()
	return s.persister.Backup(ctx, s.current.Load().Clone())
}

// acquire locks a shared persister and adopts a newer primary revision written
// by another process. Callers hold s.mu.
func (s *Store) acquire(ctx context.Context) (func() error, error) {
	shared, ok := s.persister.(domain.SharedStateStore)
	if !ok {
		return func() error { return nil }, nil
	}
	release, err := shared.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock state: %w", err)
	}
	ev, report := shared.Load(ctx)
	if report.Source == domain.LoadPrimary && ev.Revision > s.current.Load().Revision {
		s.current.Store(&ev)
	}
	return release, nil
}

type transaction struct {
	state   Event
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *Event
}

func (v transactionView) Event() Event { return v.state.Clone() }

func (v transactionView) FindParticipant(id string) (string, bool) {
	label, ok := v.state.Participants[id]
	return label, ok
}

func (v transactionView) FindAssignment(giverID string) (string, bool) {
	receiver, ok := v.state.Assignments[giverID]
	return receiver, ok
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return transactionView{state: &tx.state}
}

// StartEvent replaces the pending event with ev.
func (tx *transaction) StartEvent(ev Event) error {
	before := tx.state.Clone()
	ev = ev.Clone()
	ev.Repair()
	tx.state = ev
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionCreate, Before: before, After: ev.Clone()})
	return nil
}

func (tx *transaction) AddParticipant(id, label string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("participant id required")
	}
	if _, exists := tx.state.Participants[id]; exists {
		return fmt.Errorf("%w: %s", domain.ErrParticipantExists, id)
	}
	tx.state.Participants[id] = label
	tx.recordChange(Change{Entity: domain.EntityParticipant, Action: domain.ActionCreate, EntityID: id, After: label})
	return nil
}

// RemoveParticipant drops the participant along with their wishlist.
func (tx *transaction) RemoveParticipant(id string) error {
	label, ok := tx.state.Participants[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrParticipantNotFound, id)
	}
	delete(tx.state.Participants, id)
	delete(tx.state.Wishlists, id)
	tx.recordChange(Change{Entity: domain.EntityParticipant, Action: domain.ActionDelete, EntityID: id, Before: label})
	return nil
}

func (tx *transaction) SetAssignments(assignments map[string]string) error {
	before := make(map[string]string, len(tx.state.Assignments))
	for k, v := range tx.state.Assignments {
		before[k] = v
	}
	next := make(map[string]string, len(assignments))
	for k, v := range assignments {
		next[k] = v
	}
	tx.state.Assignments = next
	tx.recordChange(Change{Entity: domain.EntityAssignment, Action: domain.ActionUpdate, Before: before, After: next})
	return nil
}

func (tx *transaction) CloseJoin() error {
	if tx.state.JoinClosed {
		return nil
	}
	tx.state.JoinClosed = true
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionUpdate, EntityID: tx.state.ID, After: "join_closed"})
	return nil
}

func (tx *transaction) RecordGift(giverID string, gift domain.GiftSubmission) error {
	if _, ok := tx.state.Participants[giverID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrParticipantNotFound, giverID)
	}
	before, existed := tx.state.GiftSubmissions[giverID]
	if gift.SubmittedAt.IsZero() {
		gift.SubmittedAt = tx.now
	}
	tx.state.GiftSubmissions[giverID] = gift
	action := domain.ActionCreate
	var prior any
	if existed {
		action = domain.ActionUpdate
		prior = before
	}
	tx.recordChange(Change{Entity: domain.EntityGift, Action: action, EntityID: giverID, Before: prior, After: gift})
	return nil
}

// AppendMessage adds msg to the thread owned by giverID.
func (tx *transaction) AppendMessage(giverID, gifteeID string, msg domain.Message) error {
	if _, ok := tx.state.Participants[giverID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrParticipantNotFound, giverID)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = tx.now
	}
	comm := tx.state.Communications[giverID]
	thread := make([]domain.Message, len(comm.Thread), len(comm.Thread)+1)
	copy(thread, comm.Thread)
	comm.Thread = append(thread, msg)
	comm.GifteeID = gifteeID
	tx.state.Communications[giverID] = comm
	tx.recordChange(Change{Entity: domain.EntityCommunication, Action: domain.ActionCreate, EntityID: giverID, After: msg})
	return nil
}

// SetWishlist replaces the participant's wishlist; an empty list clears it.
func (tx *transaction) SetWishlist(participantID string, items []string) error {
	if _, ok := tx.state.Participants[participantID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrParticipantNotFound, participantID)
	}
	before := tx.state.Wishlists[participantID]
	if len(items) == 0 {
		delete(tx.state.Wishlists, participantID)
		tx.recordChange(Change{Entity: domain.EntityWishlist, Action: domain.ActionDelete, EntityID: participantID, Before: before})
		return nil
	}
	next := make([]string, len(items))
	copy(next, items)
	tx.state.Wishlists[participantID] = next
	tx.recordChange(Change{Entity: domain.EntityWishlist, Action: domain.ActionUpdate, EntityID: participantID, Before: before, After: next})
	return nil
}

// Reset replaces the pending event with next, typically a fresh event after
// archival.
func (tx *transaction) Reset(next Event) error {
	before := tx.state.Clone()
	next = next.Clone()
	next.Repair()
	tx.state = next
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionDelete, EntityID: before.ID, Before: before, After: next.Clone()})
	return nil
}
