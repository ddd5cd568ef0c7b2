package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"secretsanta/pkg/domain"
)

func encodeRecord(rec domain.ArchiveRecord) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode archive %d: %w", rec.Year, err)
	}
	return data, nil
}

type rawRecord struct {
	Year        int             `json:"year"`
	ArchivedAt  json.RawMessage `json:"archived_at"`
	Event       json.RawMessage `json:"event"`
	Assignments json.RawMessage `json:"assignments"`
}

// legacyAssignment is one row of the flat pre-unified archive layout.
type legacyAssignment struct {
	GiverID      flexID  `json:"giver_id"`
	GiverName    string  `json:"giver_name"`
	ReceiverID   flexID  `json:"receiver_id"`
	ReceiverName string  `json:"receiver_name"`
	Gift         *string `json:"gift"`
}

// flexID accepts identifiers stored either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// decodeRecord parses a canonical record. The key's year is authoritative.
// Legacy payloads carrying a flat assignment list are converted to the
// unified shape.
func decodeRecord(data []byte, year int) (domain.ArchiveRecord, error) {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.ArchiveRecord{}, fmt.Errorf("decode archive %d: %w", year, err)
	}
	var ev domain.Event
	switch {
	case len(raw.Event) > 0 && string(raw.Event) != "null":
		if err := json.Unmarshal(raw.Event, &ev); err != nil {
			return domain.ArchiveRecord{}, fmt.Errorf("decode archive %d event: %w", year, err)
		}
	case len(raw.Assignments) > 0 && bytes.HasPrefix(bytes.TrimSpace(raw.Assignments), []byte("[")):
		var rows []legacyAssignment
		if err := json.Unmarshal(raw.Assignments, &rows); err != nil {
			return domain.ArchiveRecord{}, fmt.Errorf("decode legacy archive %d: %w", year, err)
		}
		ev = fromLegacy(rows)
	default:
		return domain.ArchiveRecord{}, fmt.Errorf("decode archive %d: unrecognized format", year)
	}
	ev.Repair()
	ev.Year = year
	return domain.ArchiveRecord{Year: year, ArchivedAt: parseArchivedAt(raw.ArchivedAt), Event: ev}, nil
}

func fromLegacy(rows []legacyAssignment) domain.Event {
	ev := domain.NewEvent(0)
	for _, row := range rows {
		giver, receiver := string(row.GiverID), string(row.ReceiverID)
		if giver == "" {
			continue
		}
		ev.Participants[giver] = labelOr(row.GiverName)
		if receiver == "" {
			continue
		}
		ev.Participants[receiver] = labelOr(row.ReceiverName)
		ev.Assignments[giver] = receiver
		if row.Gift != nil && strings.TrimSpace(*row.Gift) != "" {
			ev.GiftSubmissions[giver] = domain.GiftSubmission{
				Gift:          *row.Gift,
				ReceiverID:    receiver,
				ReceiverLabel: labelOr(row.ReceiverName),
			}
		}
	}
	return ev
}

func labelOr(label string) string {
	if label == "" {
		return "Unknown"
	}
	return label
}

// parseArchivedAt accepts RFC 3339 strings and fractional unix seconds.
func parseArchivedAt(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		return time.Time{}
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil && !math.IsNaN(secs) {
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC()
	}
	return time.Time{}
}
