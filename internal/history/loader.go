package history

import (
	"context"
	"fmt"
	"sort"

	"secretsanta/pkg/domain"
)

// RecordSource lists archived events. The archive manager satisfies it.
type RecordSource interface {
	List(ctx context.Context) ([]domain.ArchiveRecord, error)
}

// Loader builds exclusion stacks from archived records.
type Loader struct {
	source RecordSource
}

// NewLoader constructs a loader over the given archive source.
func NewLoader(source RecordSource) *Loader {
	return &Loader{source: source}
}

// Exclusions scans the archive and returns one layer per year. A lookback of
// zero or less uses every available year; otherwise only the most recent
// lookback years are kept.
func (l *Loader) Exclusions(ctx context.Context, lookback int) (*Exclusions, error) {
	if l == nil || l.source == nil {
		return NewExclusions(), nil
	}
	records, err := l.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Year < records[j].Year })
	if lookback > 0 && len(records) > lookback {
		records = records[len(records)-lookback:]
	}
	layers := make([]Layer, 0, len(records))
	for _, rec := range records {
		layers = append(layers, NewLayer(rec.Year, rec.Event.Assignments))
	}
	return NewExclusions(layers...), nil
}

// ParticipantYear summarises one participant's role in an archived year.
type ParticipantYear struct {
	Year          int    `json:"year"`
	GaveTo        string `json:"gave_to,omitempty"`
	GaveToLabel   string `json:"gave_to_label,omitempty"`
	Gift          string `json:"gift,omitempty"`
	ReceivedFrom  string `json:"received_from,omitempty"`
	ReceivedLabel string `json:"received_from_label,omitempty"`
	ReceivedGift  string `json:"received_gift,omitempty"`
}

// ForParticipant lists every archived year the participant took part in,
// oldest first.
func (l *Loader) ForParticipant(ctx context.Context, participantID string) ([]ParticipantYear, error) {
	if l == nil || l.source == nil {
		return nil, nil
	}
	records, err := l.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Year < records[j].Year })
	var out []ParticipantYear
	for _, rec := range records {
		ev := rec.Event
		entry := ParticipantYear{Year: rec.Year}
		found := false
		if receiver, ok := ev.Assignments[participantID]; ok {
			found = true
			entry.GaveTo = receiver
			entry.GaveToLabel = ev.Participants[receiver]
			entry.Gift = ev.GiftSubmissions[participantID].Gift
		}
		if giver, ok := ev.GiverOf(participantID); ok {
			found = true
			entry.ReceivedFrom = giver
			entry.ReceivedLabel = ev.Participants[giver]
			entry.ReceivedGift = ev.GiftSubmissions[giver].Gift
		}
		if !found {
			if _, ok := ev.Participants[participantID]; !ok {
				continue
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
