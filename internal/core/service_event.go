package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"secretsanta/internal/notify"
	"secretsanta/pkg/domain"
)

// StartEvent opens a new event for year (the current year when zero). It
// fails while another event is active. An existing archive for the year is
// reported as a warning because archiving this event later will collide.
func (s *Service) StartEvent(ctx context.Context, year int) (Event, Result, error) {
	if year <= 0 {
		year = s.clock.Now().Year()
	}
	if !domain.ValidYear(year) {
		return Event{}, Result{}, fmt.Errorf("%w: %d (want %d-%d)", domain.ErrInvalidYear, year, domain.MinYear, domain.MaxYear)
	}
	id := uuid.NewString()
	var started Event
	res, err := s.run(ctx, "start_event", id, func(ctx context.Context) (Result, error) {
		archived, err := s.archive.Exists(ctx, year)
		if err != nil {
			return Result{}, fmt.Errorf("check archive: %w", err)
		}
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if tx.Snapshot().Event().Active {
				return domain.ErrEventActive
			}
			ev := domain.NewEvent(year)
			ev.ID = id
			ev.Active = true
			started = ev
			return tx.StartEvent(ev)
		})
		if err == nil && archived {
			res.Violations = append(res.Violations, Violation{
				Rule:     "archive_exists",
				Severity: SeverityWarn,
				Message:  fmt.Sprintf("an archive for %d already exists; archiving this event will write a side file", year),
				Entity:   EntityEvent,
				EntityID: id,
			})
		}
		return res, err
	})
	if err != nil {
		return Event{}, res, err
	}
	return started, res, nil
}

// AddParticipant joins id to the active event. Labels are normalized; an
// empty label falls back to the identifier.
func (s *Service) AddParticipant(ctx context.Context, id, label string) (Participant, Result, error) {
	id = strings.TrimSpace(id)
	label = NormalizeLabel(label)
	if label == "" {
		label = id
	}
	var joined Participant
	res, err := s.run(ctx, "add_participant", id, func(ctx context.Context) (Result, error) {
		return s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireOpen(tx.Snapshot().Event()); err != nil {
				return err
			}
			if err := tx.AddParticipant(id, label); err != nil {
				return err
			}
			joined = Participant{ID: id, Label: label}
			return nil
		})
	})
	if err != nil {
		return Participant{}, res, err
	}
	return joined, res, nil
}

// RemoveParticipant drops id from the active event before assignments run.
func (s *Service) RemoveParticipant(ctx context.Context, id string) (Result, error) {
	return s.run(ctx, "remove_participant", id, func(ctx context.Context) (Result, error) {
		var year int
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			ev := tx.Snapshot().Event()
			if err := requireOpen(ev); err != nil {
				return err
			}
			year = ev.Year
			return tx.RemoveParticipant(id)
		})
		if err != nil {
			return res, err
		}
		s.deliver(ctx, []notify.Message{{
			RecipientID: id,
			Kind:        notify.KindRemoved,
			Text:        fmt.Sprintf("You have left the %d Secret Santa.", year),
		}}, &res)
		return res, nil
	})
}

// AssignmentOutcome reports a committed assignment run.
type AssignmentOutcome struct {
	Assignments  map[string]string
	RelaxedYears []int
	Attempts     int
	Cycles       int
}

// RunAssignment draws a derangement over the current participants honoring
// archived pairings, commits it and closes joining. Re-running replaces the
// previous assignment. Each giver is notified after the commit.
func (s *Service) RunAssignment(ctx context.Context) (AssignmentOutcome, Result, error) {
	var (
		outcome AssignmentOutcome
		labels  map[string]string
	)
	res, err := s.run(ctx, "run_assignment", s.store.Current().ID, func(ctx context.Context) (Result, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			ev := tx.Snapshot().Event()
			if err := requireActive(ev); err != nil {
				return err
			}
			exclusions, err := s.history.Exclusions(ctx, s.lookback)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			drawn, err := s.engine.Assign(ctx, ev.ParticipantIDs(), exclusions)
			if err != nil {
				return err
			}
			if err := tx.SetAssignments(drawn.Assignments); err != nil {
				return err
			}
			if err := tx.CloseJoin(); err != nil {
				return err
			}
			outcome = AssignmentOutcome{
				Assignments:  drawn.Assignments,
				RelaxedYears: drawn.RelaxedYears,
				Attempts:     drawn.Attempts,
				Cycles:       drawn.Cycles,
			}
			labels = ev.Participants
			return nil
		})
		if err != nil {
			return res, err
		}
		if len(outcome.RelaxedYears) > 0 {
			s.logger.Info("history relaxed for assignment", "years", outcome.RelaxedYears)
		}
		msgs := make([]notify.Message, 0, len(outcome.Assignments))
		for _, giver := range sortedKeys(outcome.Assignments) {
			receiver := outcome.Assignments[giver]
			msgs = append(msgs, notify.Message{
				RecipientID: giver,
				Kind:        notify.KindAssignment,
				Text:        fmt.Sprintf("You are the Secret Santa for %s!", labelFor(labels, receiver)),
			})
		}
		s.deliver(ctx, msgs, &res)
		return res, nil
	})
	if err != nil {
		return AssignmentOutcome{}, res, err
	}
	return outcome, res, nil
}

// GifteeOf returns the receiver assigned to giverID.
func (s *Service) GifteeOf(giverID string) (Participant, error) {
	ev := s.store.Current()
	receiver, ok := ev.Assignments[giverID]
	if !ok {
		return Participant{}, fmt.Errorf("%w: %s", domain.ErrNoAssignment, giverID)
	}
	return Participant{ID: receiver, Label: labelFor(ev.Participants, receiver)}, nil
}

func labelFor(labels map[string]string, id string) string {
	if label := labels[id]; label != "" {
		return label
	}
	return id
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
