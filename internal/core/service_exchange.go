package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"secretsanta/internal/notify"
	"secretsanta/pkg/domain"
)

// RecordGift stores what giverID gave, snapshotting the receiver's label.
// A later submission replaces the earlier one.
func (s *Service) RecordGift(ctx context.Context, giverID, description string) (GiftSubmission, Result, error) {
	var gift GiftSubmission
	res, err := s.run(ctx, "record_gift", giverID, func(ctx context.Context) (Result, error) {
		text, err := cleanText(description, maxMessageLen)
		if err != nil {
			return Result{}, err
		}
		return s.store.RunInTransaction(ctx, func(tx Transaction) error {
			ev := tx.Snapshot().Event()
			if err := requireActive(ev); err != nil {
				return err
			}
			receiver, ok := ev.Assignments[giverID]
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrNoAssignment, giverID)
			}
			gift = GiftSubmission{
				Gift:          text,
				ReceiverID:    receiver,
				ReceiverLabel: ev.Participants[receiver],
				SubmittedAt:   s.clock.Now(),
			}
			return tx.RecordGift(giverID, gift)
		})
	})
	if err != nil {
		return GiftSubmission{}, res, err
	}
	return gift, res, nil
}

// RecordCommunication appends entry to giverID's thread without delivering
// it. Missing identifiers, types and timestamps are filled in.
func (s *Service) RecordCommunication(ctx context.Context, giverID string, entry Message) (Message, Result, error) {
	var stored Message
	res, err := s.run(ctx, "record_communication", giverID, func(ctx context.Context) (Result, error) {
		text, err := cleanText(entry.Message, maxMessageLen)
		if err != nil {
			return Result{}, err
		}
		entry.Message = text
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.Type == "" {
			entry.Type = domain.MessageQuestion
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = s.clock.Now()
		}
		return s.store.RunInTransaction(ctx, func(tx Transaction) error {
			ev := tx.Snapshot().Event()
			if err := requireActive(ev); err != nil {
				return err
			}
			receiver, ok := ev.Assignments[giverID]
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrNoAssignment, giverID)
			}
			stored = entry
			return tx.AppendMessage(giverID, receiver, entry)
		})
	})
	if err != nil {
		return Message{}, res, err
	}
	return stored, res, nil
}

// AskGiftee records a question from giverID and forwards it anonymously to
// their receiver.
func (s *Service) AskGiftee(ctx context.Context, giverID, text string) (Message, Result, error) {
	return s.exchange(ctx, "ask_giftee", giverID, text, domain.MessageQuestion)
}

// ReplySanta records a reply from receiverID on the thread of whoever gives to
// them and forwards it to that giver.
func (s *Service) ReplySanta(ctx context.Context, receiverID, text string) (Message, Result, error) {
	return s.exchange(ctx, "reply_santa", receiverID, text, domain.MessageReply)
}

func (s *Service) exchange(ctx context.Context, op, senderID, text string, kind domain.MessageType) (Message, Result, error) {
	var msg Message
	res, err := s.run(ctx, op, senderID, func(ctx context.Context) (Result, error) {
		body, err := cleanText(text, maxMessageLen)
		if err != nil {
			return Result{}, err
		}
		var out notify.Message
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			ev := tx.Snapshot().Event()
			if err := requireActive(ev); err != nil {
				return err
			}
			msg = Message{ID: uuid.NewString(), Type: kind, Message: body, Timestamp: s.clock.Now()}
			switch kind {
			case domain.MessageReply:
				giver, ok := ev.GiverOf(senderID)
				if !ok {
					return fmt.Errorf("%w: nobody gives to %s", domain.ErrNoAssignment, senderID)
				}
				out = notify.Message{
					RecipientID: giver,
					Kind:        notify.KindReply,
					Text:        fmt.Sprintf("Reply from %s: %s", labelFor(ev.Participants, senderID), body),
				}
				return tx.AppendMessage(giver, senderID, msg)
			default:
				receiver, ok := ev.Assignments[senderID]
				if !ok {
					return fmt.Errorf("%w: %s", domain.ErrNoAssignment, senderID)
				}
				out = notify.Message{
					RecipientID: receiver,
					Kind:        notify.KindQuestion,
					Text:        "Message from your Secret Santa: " + body,
				}
				return tx.AppendMessage(senderID, receiver, msg)
			}
		})
		if err != nil {
			return res, err
		}
		s.deliver(ctx, []notify.Message{out}, &res)
		return res, nil
	})
	if err != nil {
		return Message{}, res, err
	}
	return msg, res, nil
}

// SetWishlist replaces participantID's wishlist. Blank items are dropped and
// an empty result clears the list.
func (s *Service) SetWishlist(ctx context.Context, participantID string, items []string) ([]string, Result, error) {
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		text, err := cleanText(item, maxItemLen)
		if err != nil {
			continue
		}
		if containsFold(cleaned, text) {
			continue
		}
		cleaned = append(cleaned, text)
	}
	if len(cleaned) > maxWishlistLen {
		cleaned = cleaned[:maxWishlistLen]
	}
	op := "set_wishlist"
	if len(cleaned) == 0 {
		op = "clear_wishlist"
	}
	return s.editWishlist(ctx, op, participantID, func([]string) ([]string, error) {
		return cleaned, nil
	})
}

// AddWishlistItem appends item unless it is already present ignoring case.
func (s *Service) AddWishlistItem(ctx context.Context, participantID, item string) ([]string, Result, error) {
	return s.editWishlist(ctx, "add_wishlist_item", participantID, func(current []string) ([]string, error) {
		text, err := cleanText(item, maxItemLen)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyMessage) {
				return nil, domain.ErrEmptyItem
			}
			return nil, err
		}
		if containsFold(current, text) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateItem, text)
		}
		if len(current) >= maxWishlistLen {
			return nil, fmt.Errorf("%w: %d items", domain.ErrWishlistFull, maxWishlistLen)
		}
		return append(current, text), nil
	})
}

// RemoveWishlistItem removes the item at the 1-based position index.
func (s *Service) RemoveWishlistItem(ctx context.Context, participantID string, index int) ([]string, Result, error) {
	return s.editWishlist(ctx, "remove_wishlist_item", participantID, func(current []string) ([]string, error) {
		if index < 1 || index > len(current) {
			return nil, fmt.Errorf("%w: %d of %d", domain.ErrWishlistIndex, index, len(current))
		}
		next := make([]string, 0, len(current)-1)
		next = append(next, current[:index-1]...)
		return append(next, current[index:]...), nil
	})
}

// ClearWishlist empties participantID's wishlist.
func (s *Service) ClearWishlist(ctx context.Context, participantID string) (Result, error) {
	_, res, err := s.editWishlist(ctx, "clear_wishlist", participantID, func([]string) ([]string, error) {
		return nil, nil
	})
	return res, err
}

// Wishlist returns participantID's current wishlist.
func (s *Service) Wishlist(participantID string) ([]string, error) {
	ev := s.store.Current()
	if _, ok := ev.Participants[participantID]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrParticipantNotFound, participantID)
	}
	return append([]string(nil), ev.Wishlists[participantID]...), nil
}

// GifteeWishlist returns the receiver of giverID together with their wishlist.
func (s *Service) GifteeWishlist(giverID string) (Participant, []string, error) {
	ev := s.store.Current()
	receiver, ok := ev.Assignments[giverID]
	if !ok {
		return Participant{}, nil, fmt.Errorf("%w: %s", domain.ErrNoAssignment, giverID)
	}
	return Participant{ID: receiver, Label: labelFor(ev.Participants, receiver)},
		append([]string(nil), ev.Wishlists[receiver]...), nil
}

func (s *Service) editWishlist(ctx context.Context, op, participantID string, edit func([]string) ([]string, error)) ([]string, Result, error) {
	var updated []string
	res, err := s.run(ctx, op, participantID, func(ctx context.Context) (Result, error) {
		return s.store.RunInTransaction(ctx, func(tx Transaction) error {
			ev := tx.Snapshot().Event()
			if err := requireActive(ev); err != nil {
				return err
			}
			if _, ok := ev.Participants[participantID]; !ok {
				return fmt.Errorf("%w: %s", domain.ErrParticipantNotFound, participantID)
			}
			next, err := edit(append([]string(nil), ev.Wishlists[participantID]...))
			if err != nil {
				return err
			}
			updated = next
			return tx.SetWishlist(participantID, next)
		})
	})
	if err != nil {
		return nil, res, err
	}
	if updated == nil {
		updated = []string{}
	}
	return updated, res, nil
}

// cleanText trims and NFC-normalizes free text, rejecting empty input and
// input longer than limit runes.
func cleanText(text string, limit int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrEmptyMessage
	}
	text = normText(text)
	if n := len([]rune(text)); n > limit {
		return "", fmt.Errorf("%w: %d > %d characters", domain.ErrMessageTooLong, n, limit)
	}
	return text, nil
}

func containsFold(items []string, text string) bool {
	for _, item := range items {
		if strings.EqualFold(item, text) {
			return true
		}
	}
	return false
}
