package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramMaxText is the Bot API message length limit.
const telegramMaxText = 4096

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type botAPISender struct{ api *tgbotapi.BotAPI }

func (s botAPISender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return s.api.Send(c)
}

// TelegramNotifier sends direct messages through the Telegram Bot API.
// Participant identifiers must be numeric Telegram chat IDs.
type TelegramNotifier struct {
	s sender
}

// NewTelegramNotifier authenticates against the Bot API with token.
func NewTelegramNotifier(token string) (*TelegramNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	return &TelegramNotifier{s: botAPISender{api: api}}, nil
}

// Notify implements Notifier.
func (n *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(msg.RecipientID, 10, 64)
	if err != nil {
		return fmt.Errorf("recipient %q is not a telegram chat id: %w", msg.RecipientID, err)
	}
	text := msg.Text
	if r := []rune(text); len(r) > telegramMaxText {
		text = string(r[:telegramMaxText])
	}
	if _, err := n.s.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}
