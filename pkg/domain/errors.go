package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by event operations.
var (
	ErrEventActive         = errors.New("an event is already active")
	ErrNoActiveEvent       = errors.New("no active event")
	ErrJoinClosed          = errors.New("joining is closed for this event")
	ErrParticipantExists   = errors.New("participant already joined")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNoAssignment        = errors.New("no assignment for participant")
	ErrEmptyMessage        = errors.New("message must not be empty")
	ErrMessageTooLong      = errors.New("message exceeds the length limit")
	ErrEmptyItem           = errors.New("wishlist item must not be empty")
	ErrDuplicateItem       = errors.New("item is already on the wishlist")
	ErrWishlistFull        = errors.New("wishlist is full")
	ErrWishlistIndex       = errors.New("wishlist index out of range")
	ErrArchiveNotFound     = errors.New("archive record not found")
	ErrArchiveExists       = errors.New("archive record already exists")
	ErrNothingToRestore    = errors.New("no backup available to restore")
	ErrInvalidYear         = errors.New("year out of range")
)

// InfeasibleAssignmentError reports that no valid derangement exists for the
// participant set, even after every history year was relaxed.
type InfeasibleAssignmentError struct {
	Participants int
	Reason       string
}

func (e *InfeasibleAssignmentError) Error() string {
	return fmt.Sprintf("infeasible assignment for %d participants: %s", e.Participants, e.Reason)
}

// StateCorruptionError describes an unreadable state tier.
type StateCorruptionError struct {
	Tier LoadSource
	Err  error
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("state %s tier unreadable: %v", e.Tier, e.Err)
}

func (e *StateCorruptionError) Unwrap() error { return e.Err }

// ArchiveCollisionWarning is returned alongside a successful archive write when
// a record for the year already existed. The canonical record is untouched.
type ArchiveCollisionWarning struct {
	Year      int
	SideKey   string
	BackupKey string
}

func (e *ArchiveCollisionWarning) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "archive for %d already exists", e.Year)
	if e.SideKey != "" {
		fmt.Fprintf(&b, "; snapshot written to %s", e.SideKey)
	}
	if e.BackupKey != "" {
		fmt.Fprintf(&b, "; backup %s", e.BackupKey)
	}
	return b.String()
}

// ConcurrentModificationError is raised when a commit observes a revision it
// did not start from.
type ConcurrentModificationError struct {
	Expected int64
	Actual   int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification: expected revision %d, found %d", e.Expected, e.Actual)
}

// IsWarning reports whether err only carries non-fatal warnings.
func IsWarning(err error) bool {
	if err == nil {
		return false
	}
	var collision *ArchiveCollisionWarning
	return errors.As(err, &collision)
}
