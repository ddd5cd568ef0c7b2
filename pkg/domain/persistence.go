package domain

import "context"

// Transaction exposes the event mutations a persistence implementation must
// support within an atomic scope. Every method records a Change for the rules
// engine.
type Transaction interface {
	Snapshot() TransactionView
	StartEvent(Event) error
	AddParticipant(id, label string) error
	RemoveParticipant(id string) error
	SetAssignments(assignments map[string]string) error
	CloseJoin() error
	RecordGift(giverID string, gift GiftSubmission) error
	AppendMessage(giverID, gifteeID string, msg Message) error
	SetWishlist(participantID string, items []string) error
	Reset(next Event) error
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	Event() Event
	FindParticipant(id string) (string, bool)
	FindAssignment(giverID string) (string, bool)
}

// PersistentStore is the guarded owner of the active Event. Mutations run
// serialized through RunInTransaction; reads use the last committed state.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Current() Event
	Backup(ctx context.Context) error
}

// LoadSource reports which fallback tier produced a loaded Event.
type LoadSource string

// Load tiers, tried in order.
const (
	LoadPrimary LoadSource = "primary"
	LoadBackup  LoadSource = "backup"
	LoadDefault LoadSource = "default"
)

// LoadReport describes how a StateStore satisfied a Load call.
type LoadReport struct {
	Source   LoadSource
	Repaired []string
	// Failures lists tiers that existed but could not be read, in order.
	Failures []error
	// Err is set when every tier failed and a default Event was returned.
	Err error
}

// StateStore is the durable medium for the active Event.
type StateStore interface {
	// Load never fails: unreadable tiers fall through to the next one and
	// finally to a default Event.
	Load(ctx context.Context) (Event, LoadReport)
	// Save atomically replaces the canonical copy.
	Save(ctx context.Context, event Event) error
	// Backup writes the secondary copy consulted when the primary is unreadable.
	Backup(ctx context.Context, event Event) error
	Close() error
}

// SharedStateStore is a StateStore that other processes may write. Lock grants
// exclusive access to the medium until release is called; holders reload the
// primary tier before mutating it.
type SharedStateStore interface {
	StateStore
	Lock(ctx context.Context) (release func() error, err error)
}
