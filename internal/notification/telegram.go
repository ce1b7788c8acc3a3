package notification

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

// BotAPI is the part of the Telegram client the sender needs
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers messages through the Telegram Bot API
type TelegramSender struct {
	bot BotAPI
}

// NewTelegramSender creates a sender on top of an authenticated bot client
func NewTelegramSender(bot BotAPI) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (s *TelegramSender) Name() string {
	return "telegram"
}

// Send delivers msg to a numeric chat id or an @channel username
func (s *TelegramSender) Send(ctx context.Context, recipient string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chattable, err := buildChattable(recipient, msg)
	if err != nil {
		return err
	}

	if _, err := s.bot.Send(chattable); err != nil {
		return utils.WrapAppError(utils.ErrCodeDelivery, "failed to send telegram message", err)
	}
	return nil
}

func buildChattable(recipient string, msg Message) (tgbotapi.MessageConfig, error) {
	recipient = strings.TrimSpace(recipient)

	var config tgbotapi.MessageConfig
	if strings.HasPrefix(recipient, "@") {
		config = tgbotapi.NewMessageToChannel(recipient, msg.Text)
	} else {
		chatID, err := strconv.ParseInt(recipient, 10, 64)
		if err != nil {
			return config, utils.NewAppError(utils.ErrCodeValidation, "invalid chat id", recipient)
		}
		config = tgbotapi.NewMessage(chatID, msg.Text)
	}

	config.ParseMode = msg.ParseMode
	config.DisableWebPagePreview = true
	return config, nil
}
