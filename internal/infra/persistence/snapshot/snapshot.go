// Package snapshot holds the event codec and the tiered load policy shared by
// every StateStore backend.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"secretsanta/pkg/domain"
)

// ErrMissing is returned by a TierReader when the tier has never been written.
var ErrMissing = errors.New("snapshot tier missing")

// TierReader exposes the raw canonical and backup payloads of a backend.
type TierReader interface {
	ReadPrimary(ctx context.Context) ([]byte, error)
	ReadBackup(ctx context.Context) ([]byte, error)
}

// Encode serializes an event for storage.
func Encode(event domain.Event) ([]byte, error) {
	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// Decode parses a stored payload and applies structural repair.
func Decode(payload []byte) (domain.Event, []string, error) {
	if len(payload) == 0 {
		return domain.Event{}, nil, errors.New("decode event: empty payload")
	}
	var event domain.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.Event{}, nil, fmt.Errorf("decode event: %w", err)
	}
	repaired := event.Repair()
	return event, repaired, nil
}

// Load walks primary, then backup, then fallback. It never returns an error;
// unreadable tiers are recorded on the report instead.
func Load(ctx context.Context, r TierReader, fallback domain.Event) (domain.Event, domain.LoadReport) {
	var report domain.LoadReport
	tiers := []struct {
		source domain.LoadSource
		read   func(context.Context) ([]byte, error)
	}{
		{domain.LoadPrimary, r.ReadPrimary},
		{domain.LoadBackup, r.ReadBackup},
	}
	for _, tier := range tiers {
		payload, err := tier.read(ctx)
		if errors.Is(err, ErrMissing) {
			continue
		}
		if err == nil {
			var event domain.Event
			var repaired []string
			event, repaired, err = Decode(payload)
			if err == nil {
				report.Source = tier.source
				report.Repaired = repaired
				return event, report
			}
		}
		report.Failures = append(report.Failures, &domain.StateCorruptionError{Tier: tier.source, Err: err})
	}
	fallback.Repair()
	report.Source = domain.LoadDefault
	if len(report.Failures) > 0 {
		report.Err = report.Failures[len(report.Failures)-1]
	}
	return fallback, report
}

// CheckRevision rejects next when the stored primary payload already carries
// its revision or a later one. Unversioned events (revision zero) and
// unreadable payloads never conflict.
func CheckRevision(stored []byte, next domain.Event) error {
	if next.Revision == 0 || len(stored) == 0 {
		return nil
	}
	var head struct {
		Revision int64 `json:"revision"`
	}
	if err := json.Unmarshal(stored, &head); err != nil {
		return nil
	}
	if head.Revision >= next.Revision {
		return &domain.ConcurrentModificationError{Expected: next.Revision - 1, Actual: head.Revision}
	}
	return nil
}
