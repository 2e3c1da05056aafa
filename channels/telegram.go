package channels

import (
	"context"
	"fmt"
	"strconv"

	telegrambot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/smallnest/clawgate/config"
	"github.com/smallnest/clawgate/internal/logger"
)

// TelegramNotifier delivers messages through the Telegram Bot API.
type TelegramNotifier struct {
	bot *telegrambot.BotAPI
}

// NewTelegramNotifier validates the token against the Bot API.
func NewTelegramNotifier(cfg config.TelegramConfig) (*TelegramNotifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	bot, err := telegrambot.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.Debug("Telegram bot authorized", zap.String("username", bot.Self.UserName))
	return &TelegramNotifier{bot: bot}, nil
}

func (n *TelegramNotifier) Name() string { return "telegram" }

// Send delivers text to a chat id. The target is the numeric chat id as
// a decimal string.
func (n *TelegramNotifier) Send(ctx context.Context, target, text string) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", target, err)
	}

	// Typing indicator failures never block the message itself.
	action := telegrambot.NewChatAction(chatID, telegrambot.ChatTyping)
	if _, err := n.bot.Send(action); err != nil {
		logger.Debug("Failed to send typing indicator", zap.Error(err))
	}

	msg := telegrambot.NewMessage(chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
