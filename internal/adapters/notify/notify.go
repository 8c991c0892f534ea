// Package notify contains Notifier implementations that surface rolled
// back and escalated outcomes to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/example/ecs-manage/internal/ports/secondary"
)

// sender is the part of the Telegram bot API used here.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts notifications to a Telegram chat.
type TelegramNotifier struct {
	bot    sender
	chatID int64
}

var _ secondary.Notifier = (*TelegramNotifier)(nil)

// NewTelegramNotifier authenticates the bot token and returns a notifier
// posting to chatID.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

// Notify sends msg as a plain-text chat message.
func (n *TelegramNotifier) Notify(ctx context.Context, msg secondary.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := tgbotapi.NewMessage(n.chatID, formatMessage(msg))
	m.DisableWebPagePreview = true
	if _, err := n.bot.Send(m); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

func formatMessage(msg secondary.Notification) string {
	var b strings.Builder
	if msg.Escalated {
		b.WriteString("🚨 ")
	} else {
		b.WriteString("⚠️ ")
	}
	b.WriteString(msg.Title)
	b.WriteString("\n")
	fmt.Fprintf(&b, "status: %s\n", msg.Status)
	b.WriteString(msg.Body)
	return b.String()
}

// LogNotifier writes notifications to the log. Escalations are logged at
// error level.
type LogNotifier struct {
	log logrus.FieldLogger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs msg.
func (n *LogNotifier) Notify(ctx context.Context, msg secondary.Notification) error {
	entry := n.log.WithFields(logrus.Fields{
		"service": msg.Service,
		"status":  msg.Status,
	})
	if msg.Escalated {
		entry.Error(msg.Title + ": " + msg.Body)
	} else {
		entry.Warn(msg.Title + ": " + msg.Body)
	}
	return nil
}

// Multi delivers each notification to every notifier, collecting errors.
type Multi []secondary.Notifier

// Notify fans msg out.
func (m Multi) Notify(ctx context.Context, msg secondary.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
