package notify

import (
	"context"
	"fmt"

	gobot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

const telegramMessageLimit = 4096

type TelegramNotifier struct {
	bot    *gobot.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*TelegramNotifier, error) {
	return NewTelegramWithEndpoint(token, chatID, gobot.APIEndpoint)
}

// NewTelegramWithEndpoint takes an endpoint format such as
// "https://api.telegram.org/bot%s/%s".
func NewTelegramWithEndpoint(token string, chatID int64, endpoint string) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	bot, err := gobot.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	bot.Debug = false
	log.Info().Str("@", bot.Self.UserName).Msg("Telegram connected")
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	for _, part := range chunk(text, telegramMessageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(gobot.NewMessage(t.chatID, part)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}
