package background

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus tracks delivery of a message injected into an agent.
type MessageStatus string

const (
	// MessageQueued means the message waits for the agent's next run.
	MessageQueued MessageStatus = "queued"
	// MessageDelivered means the message was handed to a live run.
	MessageDelivered MessageStatus = "delivered"
	// MessageConsumed means the run acknowledged the message.
	MessageConsumed MessageStatus = "consumed"
	// MessageFailed means delivery was abandoned.
	MessageFailed MessageStatus = "failed"
)

// Message is text injected into a background agent from the outside, picked
// up either by the in-flight run or at the start of the next one.
type Message struct {
	ID          string        `json:"id"`
	AgentID     string        `json:"agent_id"`
	Content     string        `json:"content"`
	Status      MessageStatus `json:"status"`
	CreatedAt   int64         `json:"created_at"`
	DeliveredAt int64         `json:"delivered_at,omitempty"`
}

// NewMessage creates a queued message for the given agent.
func NewMessage(agentID, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Content:   content,
		Status:    MessageQueued,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// MarkDelivered transitions the message to delivered.
func (m *Message) MarkDelivered() {
	m.Status = MessageDelivered
	m.DeliveredAt = time.Now().UnixMilli()
}

// MarkConsumed transitions the message to consumed.
func (m *Message) MarkConsumed() {
	m.Status = MessageConsumed
}
