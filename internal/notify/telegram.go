package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatResolver maps an owner to their Telegram chat. Backed by the owner
// profile table in production wiring.
type ChatResolver func(ctx context.Context, ownerID string) (int64, error)

type TelegramSender struct {
	bot     *tgbotapi.BotAPI
	resolve ChatResolver
}

func NewTelegramSender(token string, resolve ChatResolver) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	return &TelegramSender{bot: bot, resolve: resolve}, nil
}

func (t *TelegramSender) Name() string { return "telegram" }

func (t *TelegramSender) Send(ctx context.Context, ownerID string, msg Message) error {
	chatID, err := t.resolve(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("resolve chat for owner %s: %w", ownerID, err)
	}
	out := tgbotapi.NewMessage(chatID, msg.Subject+"\n\n"+msg.Body)
	if _, err := t.bot.Send(out); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
