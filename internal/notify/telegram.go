package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"payjs-be/internal/config"
	"payjs-be/internal/logger"
	"payjs-be/internal/order"
	"payjs-be/internal/outbox"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier delivers a short message to the operator channel.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

type Telegram struct {
	enabled bool
	chatID  int64
	bot     *tgbotapi.BotAPI
}

func NewTelegram(cfg config.TelegramConfig) *Telegram {
	if cfg.Enable && cfg.Token == "" {
		logger.L().Warn("telegram enabled without a bot token")
	}

	// No getMe round trip at construction.
	bot := &tgbotapi.BotAPI{
		Token:  cfg.Token,
		Buffer: 100,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
	bot.SetAPIEndpoint(tgbotapi.APIEndpoint)

	return &Telegram{
		enabled: cfg.Enable,
		chatID:  cfg.ChatID,
		bot:     bot,
	}
}

// Send posts a plain-text message to the default operator chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	return t.send(ctx, t.chatID, text, "")
}

// SendMarkdown posts to chatID, or the default chat when chatID is 0.
func (t *Telegram) SendMarkdown(ctx context.Context, chatID int64, text string) error {
	return t.send(ctx, chatID, text, tgbotapi.ModeMarkdown)
}

func (t *Telegram) send(ctx context.Context, chatID int64, text, parseMode string) error {
	if !t.enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if chatID == 0 {
		chatID = t.chatID
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = false

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

// NotifyOnPaid tells the operator channel about a completed payment. Delivery
// errors are logged and dropped so they never hold back the paid event.
func NotifyOnPaid(n Notifier) outbox.Handler {
	return func(ctx context.Context, e outbox.Event) error {
		var ev order.PaidEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			logger.L().Warn("skip operator notification", zap.Int64("event_id", e.ID), zap.Error(err))
			return nil
		}

		text := fmt.Sprintf("User #%d paid %s via %s (trade %s)", ev.UserID, ev.Amount.StringFixed(2), ev.Gateway, ev.TradeNo)
		if err := n.Send(ctx, text); err != nil {
			logger.L().Warn("operator notification failed", zap.String("trade_no", ev.TradeNo), zap.Error(err))
		}
		return nil
	}
}
