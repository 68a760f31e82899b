// Package telegram connects the dialogue machine to a Telegram bot using
// long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"smartsmeta.app/bot/common/id"
	"smartsmeta.app/bot/common/logger"
	"smartsmeta.app/bot/internal/dialogue"
	"smartsmeta.app/bot/internal/session"
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

var commands = []tgbotapi.BotCommand{
	{Command: "new", Description: "Новая смета (сброс диалога)"},
	{Command: "rates", Description: "Текущие ставки по ролям"},
	{Command: "rate", Description: "Изменить ставку: /rate QA 3800"},
	{Command: "help", Description: "Справка"},
	{Command: "cancel", Description: "Отменить диалог"},
}

type Bot struct {
	api     API
	machine *dialogue.Machine
	locks   *session.Locker
	wg      sync.WaitGroup

	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(api API, machine *dialogue.Machine) *Bot {
	return &Bot{
		api:     api,
		machine: machine,
		locks:   session.NewLocker(),
		stopCh:  make(chan struct{}),
	}
}

// Stop makes Run stop taking updates without waiting for the long poll to
// return. Run still waits for messages already being handled.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// RegisterCommands publishes the command menu.
func (b *Bot) RegisterCommands(ctx context.Context) error {
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		return fmt.Errorf("setting bot commands: %w", err)
	}
	slog.InfoContext(ctx, "bot commands registered", "count", len(commands))
	return nil
}

// Run dispatches updates until ctx is done, Stop is called or the channel
// closes, then waits for in-flight messages. Messages of one chat are handled one at a
// time; different chats run concurrently.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	slog.InfoContext(ctx, "telegram bot started")
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "telegram bot stopping")
			return ctx.Err()
		case <-b.stopCh:
			slog.InfoContext(ctx, "telegram bot stopping")
			return nil
		case update, ok := <-updates:
			if !ok {
				slog.InfoContext(ctx, "update channel closed")
				return nil
			}
			if update.Message == nil || update.Message.Chat == nil {
				continue
			}
			b.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleSafe(ctx, msg)
			}(update.Message)
		}
	}
}

func (b *Bot) handleSafe(ctx context.Context, msg *tgbotapi.Message) {
	key := sessionKey(msg.Chat.ID)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionKey:    logger.Ptr(key),
		ChatID:        logger.Ptr(msg.Chat.ID),
		UserTag:       logger.Ptr(userTag(msg.From)),
		CorrelationID: logger.Ptr(id.NewString()),
		Component:     "smeta.telegram",
	})

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in update handler", "panic", r)
		}
	}()

	unlock := b.locks.Lock(key)
	defer unlock()

	if err := b.dispatch(ctx, key, msg); err != nil {
		slog.ErrorContext(ctx, "update handling failed", "error", err)
	}
}

func (b *Bot) dispatch(ctx context.Context, key string, msg *tgbotapi.Message) error {
	r := &chatReplier{api: b.api, chatID: msg.Chat.ID}

	if !msg.IsCommand() {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return nil
		}
		return b.machine.HandleMessage(ctx, key, text, r)
	}

	switch msg.Command() {
	case "start":
		return b.machine.Start(ctx, key, r)
	case "new":
		return b.machine.Reset(ctx, key, r)
	case "cancel":
		return b.machine.Cancel(ctx, key, r)
	case "rates":
		return b.machine.ShowRates(ctx, key, r)
	case "rate":
		return b.machine.SetRate(ctx, key, msg.CommandArguments(), r)
	case "help":
		return b.machine.Help(ctx, key, r)
	default:
		slog.InfoContext(ctx, "unknown command", "command", msg.Command())
		return b.machine.Help(ctx, key, r)
	}
}

func sessionKey(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func userTag(u *tgbotapi.User) string {
	if u == nil {
		return "?"
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	tag := fmt.Sprintf("%d (%s", u.ID, name)
	if u.UserName != "" {
		tag += " @" + u.UserName
	}
	return tag + ")"
}
