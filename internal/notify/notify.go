// Package notify alerts the operator about failed plan generations.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maxibaudrix/Kiui/internal/logger"
)

// Failure describes a failed run. UserID is hashed before it leaves the process.
type Failure struct {
	Kind      string
	Stage     string
	UserID    string
	RequestID string
	Message   string
}

type Notifier interface {
	NotifyFailure(ctx context.Context, f Failure) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) NotifyFailure(context.Context, Failure) error { return nil }

// TelegramNotifier posts one-line alerts to an admin chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *logger.Logger
}

// NewTelegramNotifier authorizes the bot token against the Bot API.
func NewTelegramNotifier(token string, chatID int64, log *logger.Logger) (*TelegramNotifier, error) {
	return newTelegramNotifier(token, tgbotapi.APIEndpoint, chatID, log)
}

func newTelegramNotifier(token, endpoint string, chatID int64, log *logger.Logger) (*TelegramNotifier, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	log.Info("telegram notifier authorized", "account", api.Self.UserName)
	return &TelegramNotifier{api: api, chatID: chatID, log: log}, nil
}

// NotifyFailure sends the alert. The Bot API client has no context support, so
// a cancelled ctx only prevents the send from starting.
func (n *TelegramNotifier) NotifyFailure(ctx context.Context, f Failure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, formatFailure(f))
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}
	return nil
}

func formatFailure(f Failure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ plan generation failed: %s", f.Kind)
	if f.Stage != "" {
		fmt.Fprintf(&b, " at %s", f.Stage)
	}
	fmt.Fprintf(&b, " | user %s", logger.HashID(f.UserID))
	if f.RequestID != "" {
		fmt.Fprintf(&b, " | request %s", f.RequestID)
	}
	if f.Message != "" {
		fmt.Fprintf(&b, " | %s", f.Message)
	}
	return b.String()
}
