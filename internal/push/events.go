package push

import (
	"encoding/json"

	"threadsync/internal/api"
)

// Event names the backend emits on the push stream.
const (
	EventMessageUpdate = "message_update"
	EventError         = "error"
)

// Event is one decoded push frame: {"event": ..., "data": {...}}.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// MessageUpdate is the payload of a message_update event. Messages arrive in
// the same shape as the thread-messages endpoint.
type MessageUpdate struct {
	ThreadID string            `json:"thread_id"`
	Messages []api.WireMessage `json:"messages"`
}

// ErrorData is the payload of an error event. It carries no thread id; the
// subscriber attributes it to the thread the connection was opened for.
type ErrorData struct {
	Error string `json:"error"`
}
