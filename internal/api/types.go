package api

import (
	"encoding/json"
	"time"
)

// ThreadMeta is the server's description of one chat thread.
type ThreadMeta struct {
	ChatID    string    `json:"chatId"`
	ThreadID  string    `json:"threadId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	WebSearch bool      `json:"webSearch"`
}

// Wire roles as the backend reports them. The client maps human/ai onto its
// own role enum and drops system rows before storage.
const (
	WireRoleHuman  = "human"
	WireRoleAI     = "ai"
	WireRoleSystem = "system"
)

// WireMessage is one transcript row in the shape the backend returns it,
// both from the messages endpoint and inside push events.
type WireMessage struct {
	ID                 string          `json:"id"`
	Role               string          `json:"role"`
	Content            string          `json:"content,omitempty"`
	AdditionalMetadata json.RawMessage `json:"additionalMetadata,omitempty"`
}

// System reports whether the row is system-originated.
func (m WireMessage) System() bool {
	return m.Role == WireRoleSystem
}

// MessageMetadata carries the optional extras tucked into a wire message.
type MessageMetadata struct {
	AudioURL string `json:"audioUrl,omitempty"`
}

// Metadata decodes AdditionalMetadata; absent or malformed metadata yields
// the zero value.
func (m WireMessage) Metadata() MessageMetadata {
	var meta MessageMetadata
	if len(m.AdditionalMetadata) == 0 {
		return meta
	}
	_ = json.Unmarshal(m.AdditionalMetadata, &meta)
	return meta
}

// CreateThreadRequest creates a thread; InitialText lets the very first
// message be created atomically with the thread itself.
type CreateThreadRequest struct {
	Title       string `json:"title"`
	NotebookID  string `json:"notebookId,omitempty"`
	InitialText string `json:"initialText,omitempty"`
	WebSearch   bool   `json:"webSearch"`
	Mode        string `json:"mode,omitempty"`
	SubMode     string `json:"subMode,omitempty"`
}

// SendMessageRequest posts a message to an existing thread. The response
// body is empty; the assistant reply arrives via the push stream.
type SendMessageRequest struct {
	ThreadID  string `json:"-"`
	Text      string `json:"text,omitempty"`
	AudioRef  string `json:"audioRef,omitempty"`
	AudioData []byte `json:"audioData,omitempty"`
	Mode      string `json:"mode,omitempty"`
	SubMode   string `json:"subMode,omitempty"`
}
