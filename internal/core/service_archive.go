package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"secretsanta/internal/blob"
	"secretsanta/internal/history"
	"secretsanta/pkg/domain"
)

// ArchiveOutcome reports a stop_and_archive run. Collision is set when a
// record for the year already existed and the snapshot went to a side file.
type ArchiveOutcome struct {
	Record    ArchiveRecord
	Collision *domain.ArchiveCollisionWarning
}

// StopAndArchive freezes the active event into the archive and replaces it
// with a fresh inactive event. Both steps happen inside the guard so no
// mutation can land between the snapshot and the reset.
func (s *Service) StopAndArchive(ctx context.Context) (ArchiveOutcome, Result, error) {
	var outcome ArchiveOutcome
	res, err := s.run(ctx, "stop_and_archive", s.store.Current().ID, func(ctx context.Context) (Result, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			ev := tx.Snapshot().Event()
			if err := requireActive(ev); err != nil {
				return err
			}
			frozen := ev.Clone()
			frozen.Active = false
			rec, err := s.archive.Archive(ctx, frozen)
			var collision *domain.ArchiveCollisionWarning
			switch {
			case errors.As(err, &collision):
				outcome.Collision = collision
			case err != nil:
				return fmt.Errorf("archive %d: %w", ev.Year, err)
			}
			outcome.Record = rec
			return tx.Reset(domain.NewEvent(s.clock.Now().Year()))
		})
		if err != nil {
			return res, err
		}
		if c := outcome.Collision; c != nil {
			res.Violations = append(res.Violations, Violation{
				Rule:     "archive_collision",
				Severity: SeverityWarn,
				Message:  c.Error(),
				Entity:   EntityEvent,
				EntityID: strconv.Itoa(c.Year),
			})
		}
		return res, nil
	})
	if err != nil {
		return ArchiveOutcome{}, res, err
	}
	return outcome, res, nil
}

// History lists every readable archived year, oldest first.
func (s *Service) History(ctx context.Context) ([]ArchiveRecord, error) {
	return s.archive.List(ctx)
}

// HistoryYear returns the canonical record for year.
func (s *Service) HistoryYear(ctx context.Context, year int) (ArchiveRecord, error) {
	return s.archive.Get(ctx, year)
}

// UserHistory lists, per archived year, whom participantID gave to and
// received from.
func (s *Service) UserHistory(ctx context.Context, participantID string) ([]history.ParticipantYear, error) {
	return s.history.ForParticipant(ctx, participantID)
}

// Backups lists the backup copies kept for year.
func (s *Service) Backups(ctx context.Context, year int) ([]blob.Info, error) {
	return s.archive.Backups(ctx, year)
}

// DeleteYear moves the record for year into the backup area and returns the
// backup key.
func (s *Service) DeleteYear(ctx context.Context, year int) (string, error) {
	var key string
	_, err := s.run(ctx, "delete_year", strconv.Itoa(year), func(ctx context.Context) (Result, error) {
		var err error
		key, err = s.archive.Delete(ctx, year)
		return Result{}, err
	})
	return key, err
}

// RestoreYear brings the most recent backup of year back to the live record
// and returns the key it was restored from.
func (s *Service) RestoreYear(ctx context.Context, year int) (string, error) {
	var key string
	_, err := s.run(ctx, "restore_year", strconv.Itoa(year), func(ctx context.Context) (Result, error) {
		var err error
		key, err = s.archive.Restore(ctx, year)
		return Result{}, err
	})
	return key, err
}
