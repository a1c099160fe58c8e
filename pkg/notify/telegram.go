// Package notify pushes terminal task events to Telegram using the
// tgbotapi library. Optional: a nil notifier is silently inert.
package notify

import (
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"webpilot/pkg/events"
	"webpilot/pkg/logger"
)

// maxMessageLen is Telegram's practical message limit; longer details are
// clipped.
const maxMessageLen = 4000

// Telegram sends terminal-event notifications to one chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	mu     sync.Mutex
}

// NewTelegram validates the token via an API call and returns a ready
// notifier. Returns (nil, nil) when token is empty (not configured).
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = false
	return &Telegram{api: api, chatID: chatID}, nil
}

// Subscriber returns an event subscriber that pushes terminal events. Safe
// to call on a nil notifier.
func (t *Telegram) Subscriber() events.Subscriber {
	return func(e events.Event) {
		if t == nil || !e.IsTerminal() {
			return
		}
		var prefix string
		switch e.State {
		case events.TaskOK:
			prefix = "✅ Task complete"
		case events.TaskFail:
			prefix = "❌ Task failed"
		case events.TaskCancel:
			prefix = "⏹ Task cancelled"
		}
		t.send(fmt.Sprintf("%s\n%s", prefix, clip(e.Data.Details, maxMessageLen)))
	}
}

func (t *Telegram) send(text string) {
	if t.chatID == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		logger.Warnf("telegram send failed: %v", err)
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
