// Package notify delivers run outcome notifications to operators. Telegram
// is the shipped channel; the log channel is the fallback when no channel
// is configured.
package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"

	"github.com/nightshift-run/nightshift/internal/logger"
)

// Channel sends one notification text to a destination chat.
type Channel interface {
	Send(ctx context.Context, chatID, text string) error
	Name() string
}

// TelegramChannel sends notifications through a Telegram bot.
type TelegramChannel struct {
	bot *telego.Bot
	log *logger.Logger
}

// NewTelegramChannel creates the channel from a bot token.
func NewTelegramChannel(token string, log *logger.Logger) (*TelegramChannel, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramChannel{bot: bot, log: log}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

// Send implements Channel.
func (c *TelegramChannel) Send(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	params := telego.SendMessageParams{
		ChatID: telego.ChatID{ID: id},
		Text:   text,
	}
	if _, err := c.bot.SendMessage(ctx, &params); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// LogChannel writes notifications to the log. Used when no external channel
// is configured so outcomes are still visible.
type LogChannel struct {
	log *logger.Logger
}

// NewLogChannel creates the fallback channel.
func NewLogChannel(log *logger.Logger) *LogChannel {
	return &LogChannel{log: log}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, chatID, text string) error {
	c.log.Info("notification",
		logger.Field{Key: "chat_id", Value: chatID},
		logger.Field{Key: "text", Value: text},
	)
	return nil
}

// Registry maps channel names to configured channels.
type Registry struct {
	channels map[string]Channel
	fallback Channel
}

// NewRegistry creates a registry with the log channel as fallback.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		channels: make(map[string]Channel),
		fallback: NewLogChannel(log),
	}
}

// Register adds a channel under its name.
func (r *Registry) Register(c Channel) {
	r.channels[c.Name()] = c
}

// Get returns the named channel, or the log fallback when the name is empty
// or unknown.
func (r *Registry) Get(name string) Channel {
	if c, ok := r.channels[name]; ok {
		return c
	}
	return r.fallback
}
