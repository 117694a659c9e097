// Package api is the REST collaborator for the sync layer: thread creation,
// chat listing, transcript fetches, sends and deletes. Transport failures
// are reported through the error taxonomy in errors.go and never escape the
// callers uncaught; the layer above converts them into state rollbacks.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to the chat backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client against baseURL (scheme://host[:port], no
// trailing slash required).
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// CreateThread provisions a server-side thread; when InitialText is set the
// first human message is created atomically with it.
func (c *Client) CreateThread(ctx context.Context, req CreateThreadRequest) (ThreadMeta, error) {
	var meta ThreadMeta
	err := c.do(ctx, "create thread", http.MethodPost, "/api/chats", nil, req, &meta)
	return meta, err
}

// ListChats returns the chats visible to the client, optionally scoped to a
// notebook.
func (c *Client) ListChats(ctx context.Context, notebookID string) ([]ThreadMeta, error) {
	var query url.Values
	if notebookID != "" {
		query = url.Values{"notebookId": {notebookID}}
	}
	var metas []ThreadMeta
	if err := c.do(ctx, "list chats", http.MethodGet, "/api/chats", query, nil, &metas); err != nil {
		return nil, err
	}
	return metas, nil
}

// GetThreadMessages fetches the canonical transcript for a thread.
func (c *Client) GetThreadMessages(ctx context.Context, threadID string) ([]WireMessage, error) {
	var messages []WireMessage
	path := fmt.Sprintf("/api/threads/%s/messages", url.PathEscape(threadID))
	if err := c.do(ctx, "get thread messages", http.MethodGet, path, nil, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage posts a message to an existing thread. Fire-and-forget: the
// assistant reply arrives via the push stream, not the response body.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) error {
	path := fmt.Sprintf("/api/threads/%s/messages", url.PathEscape(req.ThreadID))
	return c.do(ctx, "send message", http.MethodPost, path, nil, req, nil)
}

// DeleteMessage removes one message from a thread.
func (c *Client) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	path := fmt.Sprintf("/api/threads/%s/messages/%s", url.PathEscape(threadID), url.PathEscape(messageID))
	return c.do(ctx, "delete message", http.MethodDelete, path, nil, nil, nil)
}

// DeleteChat removes a chat and its thread.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	path := fmt.Sprintf("/api/chats/%s", url.PathEscape(chatID))
	return c.do(ctx, "delete chat", http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("op", op), zap.Error(err))
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: decodeError(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// decodeError pulls the {"error": ...} body the backend sends on failures.
func decodeError(r io.Reader) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil || payload.Error == "" {
		return fmt.Errorf("request rejected")
	}
	return fmt.Errorf("%s", payload.Error)
}
