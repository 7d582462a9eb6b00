package tools

import (
	"context"
	"fmt"
	"time"
)

// SystemTimeTool returns the current time. Scheduled agents routinely need
// it to anchor "yesterday" or "last week" in their task input.
type SystemTimeTool struct{}

// NewSystemTimeTool creates the tool.
func NewSystemTimeTool() *SystemTimeTool {
	return &SystemTimeTool{}
}

func (t *SystemTimeTool) Name() string { return "system_time" }

func (t *SystemTimeTool) Description() string {
	return "Returns the current system date and time."
}

func (t *SystemTimeTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *SystemTimeTool) Execute(context.Context, string) (string, error) {
	now := time.Now()
	return fmt.Sprintf("RFC3339: %s\nHuman readable: %s",
		now.Format(time.RFC3339),
		now.Format("Monday, 02 January 2006, 15:04:05 MST"),
	), nil
}
