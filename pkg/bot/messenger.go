package bot

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v3"
)

// Messenger sends chat messages without running an update loop. The worker
// process uses it for job completion notices and auth prompts.
type Messenger struct {
	bot    *tele.Bot
	admins []int64
}

// NewMessenger connects with the bot token for sending only. An empty token
// returns a no-op messenger so simulate-only workers run without one.
func NewMessenger(token string, admins []int64) (*Messenger, error) {
	if token == "" {
		return &Messenger{admins: admins}, nil
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to connect bot: %w", err)
	}
	return &Messenger{bot: b, admins: admins}, nil
}

// NotifyChat sends text to a chat. Satisfies worker.Notifier.
func (m *Messenger) NotifyChat(ctx context.Context, chatID int64, text string) error {
	if m.bot == nil || text == "" {
		return nil
	}
	_, err := m.bot.Send(tele.ChatID(chatID), text)
	return err
}

// NotifyAdmins sends text to every whitelisted user.
func (m *Messenger) NotifyAdmins(ctx context.Context, text string) error {
	if m.bot == nil {
		return nil
	}
	var first error
	for _, id := range m.admins {
		if _, err := m.bot.Send(tele.ChatID(id), text); err != nil && first == nil {
			first = err
		}
	}
	return first
}
