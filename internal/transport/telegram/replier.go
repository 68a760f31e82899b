package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"smartsmeta.app/bot/internal/dialogue"
	"smartsmeta.app/bot/internal/render"
)

// maxMessageLen is Telegram's limit for one text message, in UTF-16 units.
// Splitting by runes under this bound stays safe for Cyrillic text.
const maxMessageLen = 4000

type chatReplier struct {
	api    API
	chatID int64
}

var _ dialogue.Replier = (*chatReplier)(nil)

func (r *chatReplier) SendText(_ context.Context, text string) error {
	for _, part := range splitMessage(text, maxMessageLen) {
		if _, err := r.api.Send(tgbotapi.NewMessage(r.chatID, part)); err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
	}
	return nil
}

func (r *chatReplier) SendDocument(_ context.Context, a render.Artifact) error {
	doc := tgbotapi.NewDocument(r.chatID, tgbotapi.FileBytes{Name: a.Filename, Bytes: a.Data})
	if _, err := r.api.Send(doc); err != nil {
		return fmt.Errorf("sending %s: %w", a.Format, err)
	}
	return nil
}

func (r *chatReplier) Typing(_ context.Context) error {
	if _, err := r.api.Request(tgbotapi.NewChatAction(r.chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("sending chat action: %w", err)
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(parts, string(runes))
}
