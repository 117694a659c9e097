package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message. System-originated rows are
// filtered out before they reach this layer.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// MessageStatus separates locally authored messages awaiting server
// confirmation from canonical server data.
type MessageStatus string

const (
	// StatusConfirmed marks a message that came from a server snapshot.
	StatusConfirmed MessageStatus = "confirmed"
	// StatusPending marks an optimistic message shown before the server
	// has acknowledged it.
	StatusPending MessageStatus = "pending"
)

// Message is a single turn of a session transcript.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   string        `json:"content,omitempty"`
	AudioURL  string        `json:"audioUrl,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status"`
}

// Pending reports whether the message is still optimistic.
func (m Message) Pending() bool {
	return m.Status == StatusPending
}

// NewPendingMessage builds an optimistic human message with a locally
// generated id. At least one of content/audioURL must be set; callers
// validate that before appending.
func NewPendingMessage(content, audioURL string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleHuman,
		Content:   content,
		AudioURL:  audioURL,
		Timestamp: time.Now().UTC(),
		Status:    StatusPending,
	}
}
