package utils

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// SendEvent writes one push frame: a text message containing
// {"event": ..., "data": ...}. Callers serialize writes per connection.
func SendEvent(conn *websocket.Conn, event string, data interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event": event,
		"data":  data,
	})
	if err != nil {
		return fmt.Errorf("marshal push frame: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
