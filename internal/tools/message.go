package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nightshift-run/nightshift/internal/notify"
)

// MessageTool lets the agent send a message to its operator mid-run.
type MessageTool struct {
	channel notify.Channel
	chatID  string
}

// NewMessageTool creates the tool bound to one destination.
func NewMessageTool(channel notify.Channel, chatID string) *MessageTool {
	return &MessageTool{channel: channel, chatID: chatID}
}

func (t *MessageTool) Name() string { return "send_message" }

func (t *MessageTool) Description() string {
	return "Send a message to the operator. Use for questions or important findings that should not wait until the run completes."
}

func (t *MessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The message text.",
			},
		},
		"required": []string{"text"},
	}
}

type messageArgs struct {
	Text string `json:"text"`
}

func (t *MessageTool) Execute(ctx context.Context, args string) (string, error) {
	var a messageArgs
	if err := parseArgs(args, &a); err != nil {
		return "", err
	}
	a.Text = strings.TrimSpace(a.Text)
	if a.Text == "" {
		return "", fmt.Errorf("text is required")
	}

	if err := t.channel.Send(ctx, t.chatID, a.Text); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return "message sent", nil
}
