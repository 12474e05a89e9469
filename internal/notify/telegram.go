// Package notify delivers operator alerts for terminal sync failures over
// Telegram.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"taskbridge/internal/config"
	"taskbridge/internal/models"
)

// MessageSender is the Telegram API surface the notifier needs; satisfied by
// *tgbotapi.BotAPI.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramNotifier struct {
	sender MessageSender
	chatID int64
	logger zerolog.Logger
}

// NewTelegramNotifier connects the bot. Returns an error when the token is
// rejected by the Telegram API.
func NewTelegramNotifier(cfg config.NotifyConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewTelegramNotifierWithSender(bot, cfg.ChatID, logger), nil
}

func NewTelegramNotifierWithSender(sender MessageSender, chatID int64, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender: sender,
		chatID: chatID,
		logger: logger.With().Str("component", "telegram-notifier").Logger(),
	}
}

// NotifyFailure posts a terminal queue failure to the operator chat.
func (n *TelegramNotifier) NotifyFailure(ctx context.Context, item *models.SyncQueueItem, reason string) error {
	text := fmt.Sprintf(
		"❌ Sync failed permanently\n\nItem: #%d\nAction: %s\nMapping: #%d\nRetries: %d/%d\nReason: %s",
		item.ID, item.ActionType, item.TaskMappingID, item.RetryCount, item.MaxRetries, reason,
	)

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("failed to send failure alert: %w", err)
	}

	n.logger.Info().Int64("item_id", item.ID).Msg("failure alert sent")
	return nil
}
