package chat

import (
	"time"

	"github.com/google/uuid"
)

// Session is one client-side chat, possibly not yet bound to a server
// thread. A temporary session has an empty ThreadID; promotion sets the
// ThreadID exactly once by replacing the session wholesale.
type Session struct {
	ID               string    `json:"id"`
	ThreadID         string    `json:"threadId,omitempty"`
	Title            string    `json:"title"`
	Messages         []Message `json:"messages"`
	CreatedAt        time.Time `json:"createdAt"`
	WebSearchEnabled bool      `json:"webSearchEnabled"`
}

// Temporary reports whether the session has not been persisted yet.
func (s Session) Temporary() bool {
	return s.ThreadID == ""
}

// NewTemporarySession builds an unsaved session with a locally generated id.
func NewTemporarySession(title string, webSearch bool) Session {
	return Session{
		ID:               uuid.NewString(),
		Title:            title,
		Messages:         make([]Message, 0, 8),
		CreatedAt:        time.Now().UTC(),
		WebSearchEnabled: webSearch,
	}
}
