package notify

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramConfig configures the Telegram alert channel.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// TelegramSender delivers alert messages to one chat (optionally a topic
// thread).
type TelegramSender struct {
	bot      *tele.Bot
	chatID   int64
	threadID int
}

func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	// Outbound-only: alerts are pushed, no poller is attached.
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: bot, chatID: cfg.ChatID, threadID: cfg.ThreadID}, nil
}

func (t *TelegramSender) Send(ctx context.Context, text string) error {
	opts := &tele.SendOptions{ThreadID: t.threadID}

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text, opts)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return context.DeadlineExceeded
	}
}
