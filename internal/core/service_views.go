package core

import "time"

// GiftEntry is one recorded gift of the active event.
type GiftEntry struct {
	Giver       Participant `json:"giver"`
	Receiver    Participant `json:"receiver"`
	Gift        string      `json:"gift"`
	SubmittedAt time.Time   `json:"submitted_at"`
}

// Thread is the anonymous conversation between a giver and their giftee.
type Thread struct {
	Giver    Participant `json:"giver"`
	Giftee   Participant `json:"giftee"`
	Messages []Message   `json:"messages"`
}

// Gifts lists the active event's submissions ordered by giver label. The
// receiver label is the one captured when the gift was recorded.
func (s *Service) Gifts() ([]GiftEntry, error) {
	ev := s.store.Current()
	if err := requireActive(ev); err != nil {
		return nil, err
	}
	out := make([]GiftEntry, 0, len(ev.GiftSubmissions))
	for _, giver := range s.givers(ev, sortedKeys(ev.GiftSubmissions)) {
		gift := ev.GiftSubmissions[giver.ID]
		receiver := Participant{ID: gift.ReceiverID, Label: gift.ReceiverLabel}
		if receiver.Label == "" {
			receiver.Label = labelFor(ev.Participants, gift.ReceiverID)
		}
		out = append(out, GiftEntry{Giver: giver, Receiver: receiver, Gift: gift.Gift, SubmittedAt: gift.SubmittedAt})
	}
	return out, nil
}

// Communications lists every thread of the active event ordered by giver
// label, messages oldest first.
func (s *Service) Communications() ([]Thread, error) {
	ev := s.store.Current()
	if err := requireActive(ev); err != nil {
		return nil, err
	}
	out := make([]Thread, 0, len(ev.Communications))
	for _, giver := range s.givers(ev, sortedKeys(ev.Communications)) {
		comm := ev.Communications[giver.ID]
		out = append(out, Thread{
			Giver:    giver,
			Giftee:   Participant{ID: comm.GifteeID, Label: labelFor(ev.Participants, comm.GifteeID)},
			Messages: append([]Message(nil), comm.Thread...),
		})
	}
	return out, nil
}

func (s *Service) givers(ev Event, ids []string) []Participant {
	out := make([]Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, Participant{ID: id, Label: labelFor(ev.Participants, id)})
	}
	sortParticipants(s.opts.locale, out)
	return out
}
