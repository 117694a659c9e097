// Package push owns the single server-push connection. At most one
// connection is live at any instant, bound to exactly one thread; redirecting
// it to another thread detaches the old connection's handler before closing
// it so queued events for the abandoned thread cannot mutate state after the
// fact.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler receives decoded push traffic. The threadID handed to every
// callback is the thread the connection was opened for, never whichever
// session happens to be selected when the callback runs.
type Handler interface {
	// HandleOpen runs once the connection for threadID is established.
	HandleOpen(threadID string)
	// HandleEvent delivers one decoded frame. The connection stays open.
	HandleEvent(threadID string, ev Event)
	// HandleStreamError reports a dead connection. No automatic retry
	// happens; reconnection waits for the next explicit ConnectToThread.
	HandleStreamError(threadID string, err error)
	// HandleParseError reports a malformed frame. The failure is isolated
	// to that single delivery; the connection stays open.
	HandleParseError(threadID string, err error)
}

// StreamError wraps a push connection failure with the thread the connection
// was bound to.
type StreamError struct {
	ThreadID string
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("push stream for thread %s: %v", e.ThreadID, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

type connState int

const (
	stateOpen connState = iota
	stateErrored
	stateClosed
)

// connection is one live websocket bound to a thread. Its handler reference
// is cleared under mu when the manager abandons it; the read loop snapshots
// the handler before every callback, so a detached connection delivers
// nothing.
type connection struct {
	threadID string
	ws       *websocket.Conn

	mu      sync.Mutex
	handler Handler
	state   connState
}

func (c *connection) snapshot() Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// detach must run before closing the socket: closing first risks a queued
// event firing against a connection the caller has already abandoned.
func (c *connection) detach() {
	c.mu.Lock()
	c.handler = nil
	if c.state == stateOpen {
		c.state = stateClosed
	}
	c.mu.Unlock()
}

func (c *connection) markErrored() {
	c.mu.Lock()
	if c.state == stateOpen {
		c.state = stateErrored
	}
	c.mu.Unlock()
}

func (c *connection) open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

// Manager owns the active push connection. No other component holds a
// reference to the transport object.
type Manager struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu     sync.Mutex
	active *connection
}

// NewManager builds a manager dialing baseURL (ws://host[:port]).
func NewManager(baseURL string, handshakeTimeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		baseURL: baseURL,
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger:  logger,
	}
}

// ConnectToThread redirects the single push connection to threadID. Holding
// an open connection to the same thread is a no-op. Otherwise the old
// connection is detached, then closed, and a new one is dialed; the
// replacement is atomic from the caller's point of view.
func (m *Manager) ConnectToThread(ctx context.Context, threadID string, handler Handler) error {
	m.mu.Lock()

	if m.active != nil && m.active.threadID == threadID && m.active.open() {
		m.mu.Unlock()
		return nil
	}

	m.dropActiveLocked()

	endpoint := fmt.Sprintf("%s/api/threads/%s/events", m.baseURL, url.PathEscape(threadID))
	ws, _, err := m.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		m.mu.Unlock()
		return &StreamError{ThreadID: threadID, Err: err}
	}

	conn := &connection{threadID: threadID, ws: ws, handler: handler}
	m.active = conn
	m.mu.Unlock()
	m.logger.Debug("push connected", zap.String("thread", threadID))

	go m.readLoop(conn)
	handler.HandleOpen(threadID)
	return nil
}

// Disconnect is the hard teardown used only on full shutdown.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropActiveLocked()
}

// ConnectedThread reports the thread of the currently open connection, if any.
func (m *Manager) ConnectedThread() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.open() {
		return m.active.threadID, true
	}
	return "", false
}

func (m *Manager) dropActiveLocked() {
	if m.active == nil {
		return
	}
	old := m.active
	m.active = nil
	old.detach()
	_ = old.ws.Close()
}

func (m *Manager) readLoop(c *connection) {
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			c.markErrored()
			_ = c.ws.Close()
			m.clearIfActive(c)
			if h := c.snapshot(); h != nil {
				m.logger.Debug("push stream error",
					zap.String("thread", c.threadID), zap.Error(err))
				h.HandleStreamError(c.threadID, &StreamError{ThreadID: c.threadID, Err: err})
			}
			return
		}

		h := c.snapshot()
		if h == nil {
			// Abandoned by a redirect; stop draining.
			return
		}

		var ev Event
		if err := json.Unmarshal(frame, &ev); err != nil || ev.Name == "" {
			if err == nil {
				err = fmt.Errorf("frame missing event name")
			}
			m.logger.Warn("malformed push frame",
				zap.String("thread", c.threadID), zap.Error(err))
			h.HandleParseError(c.threadID, err)
			continue
		}

		h.HandleEvent(c.threadID, ev)
	}
}

func (m *Manager) clearIfActive(c *connection) {
	m.mu.Lock()
	if m.active == c {
		m.active = nil
	}
	m.mu.Unlock()
}
