// Package domain defines the persistent gift-exchange entities, value types,
// and rule evaluation primitives used by secretsanta.
package domain

import (
	"sort"
	"time"
)

// EntityType identifies the kind of record a Change or Violation refers to.
type EntityType string

// Supported entity type identifiers used in Change records.
const (
	// EntityEvent identifies the active event as a whole.
	EntityEvent EntityType = "event"
	// EntityParticipant identifies a participant membership entry.
	EntityParticipant EntityType = "participant"
	// EntityAssignment identifies the giver to receiver mapping.
	EntityAssignment EntityType = "assignment"
	// EntityGift identifies a gift submission.
	EntityGift          EntityType = "gift_submission"
	EntityCommunication EntityType = "communication"
	EntityWishlist      EntityType = "wishlist"
)

// MessageType distinguishes the direction of an anonymous exchange entry.
type MessageType string

const (
	// MessageQuestion is sent by a giver to their receiver.
	MessageQuestion MessageType = "question"
	// MessageReply is sent by a receiver back to their anonymous giver.
	MessageReply MessageType = "reply"
)

// Participant is an opaque stable identifier plus display label.
type Participant struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// GiftSubmission records what a giver reported giving. The receiver label is a
// snapshot taken at submission time.
type GiftSubmission struct {
	Gift          string    `json:"gift"`
	ReceiverID    string    `json:"receiver_id"`
	ReceiverLabel string    `json:"receiver_name,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Message is one entry of an anonymous exchange thread.
type Message struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Rewritten string      `json:"rewritten,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Communication is the thread a giver holds with their giftee.
type Communication struct {
	GifteeID string    `json:"giftee_id"`
	Thread   []Message `json:"thread"`
}

// Event is the mutable state of one occurrence of the exchange.
type Event struct {
	ID              string                    `json:"id,omitempty"`
	Year            int                       `json:"year"`
	Active          bool                      `json:"active"`
	JoinClosed      bool                      `json:"join_closed"`
	Revision        int64                     `json:"revision"`
	UpdatedAt       time.Time                 `json:"updated_at"`
	Participants    map[string]string         `json:"participants"`
	Assignments     map[string]string         `json:"assignments"`
	GiftSubmissions map[string]GiftSubmission `json:"gift_submissions"`
	Communications  map[string]Communication  `json:"communications"`
	Wishlists       map[string][]string       `json:"wishlists"`
}

// Event years are four-digit calendar years.
const (
	MinYear = 1
	MaxYear = 9999
)

// ValidYear reports whether year fits the archive's four-digit record keys.
func ValidYear(year int) bool { return year >= MinYear && year <= MaxYear }

// NewEvent returns an empty, inactive event for the given year with every
// collection initialised.
func NewEvent(year int) Event {
	return Event{
		Year:            year,
		Participants:    map[string]string{},
		Assignments:     map[string]string{},
		GiftSubmissions: map[string]GiftSubmission{},
		Communications:  map[string]Communication{},
		Wishlists:       map[string][]string{},
	}
}

// Clone returns a deep copy so callers cannot alias the store's copy.
func (e Event) Clone() Event {
	out := e
	out.Participants = cloneStringMap(e.Participants)
	out.Assignments = cloneStringMap(e.Assignments)
	out.GiftSubmissions = make(map[string]GiftSubmission, len(e.GiftSubmissions))
	for k, v := range e.GiftSubmissions {
		out.GiftSubmissions[k] = v
	}
	out.Communications = make(map[string]Communication, len(e.Communications))
	for k, v := range e.Communications {
		thread := make([]Message, len(v.Thread))
		copy(thread, v.Thread)
		out.Communications[k] = Communication{GifteeID: v.GifteeID, Thread: thread}
	}
	out.Wishlists = make(map[string][]string, len(e.Wishlists))
	for k, v := range e.Wishlists {
		items := make([]string, len(v))
		copy(items, v)
		out.Wishlists[k] = items
	}
	return out
}

// Repair inserts empty defaults for any missing collection and reports which
// fields were filled in. It never discards data.
func (e *Event) Repair() []string {
	var repaired []string
	if e.Participants == nil {
		e.Participants = map[string]string{}
		repaired = append(repaired, "participants")
	}
	if e.Assignments == nil {
		e.Assignments = map[string]string{}
		repaired = append(repaired, "assignments")
	}
	if e.GiftSubmissions == nil {
		e.GiftSubmissions = map[string]GiftSubmission{}
		repaired = append(repaired, "gift_submissions")
	}
	if e.Communications == nil {
		e.Communications = map[string]Communication{}
		repaired = append(repaired, "communications")
	}
	for giver, comm := range e.Communications {
		if comm.Thread == nil {
			comm.Thread = []Message{}
			e.Communications[giver] = comm
		}
	}
	if e.Wishlists == nil {
		e.Wishlists = map[string][]string{}
		repaired = append(repaired, "wishlists")
	}
	return repaired
}

// ParticipantIDs returns the participant identifiers in ascending order.
func (e Event) ParticipantIDs() []string {
	ids := make([]string, 0, len(e.Participants))
	for id := range e.Participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GiverOf returns the participant assigned to give to receiver.
func (e Event) GiverOf(receiver string) (string, bool) {
	for giver, r := range e.Assignments {
		if r == receiver {
			return giver, true
		}
	}
	return "", false
}

// ArchiveRecord is the frozen snapshot of a completed event.
type ArchiveRecord struct {
	Year       int       `json:"year"`
	ArchivedAt time.Time `json:"archived_at"`
	Event      Event     `json:"event"`
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Severity captures rule outcomes.
type Severity string

// Severity levels for rule violations.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Change describes a mutation applied during a transaction.
type Change struct {
	Entity   EntityType
	Action   Action
	EntityID string
	Before   any
	After    any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported operations captured by the rules engine.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Rule + ": " + v.Message
		}
	}
	return "transaction blocked by rules"
}
