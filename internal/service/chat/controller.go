package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"threadsync/internal/api"
	model "threadsync/internal/model/chat"
	"threadsync/internal/push"
)

// ErrEmptyMessage reports a send with neither text nor audio.
var ErrEmptyMessage = errors.New("message requires text or audio")

// APIClient is the REST collaborator contract the controller consumes.
type APIClient interface {
	CreateThread(ctx context.Context, req api.CreateThreadRequest) (api.ThreadMeta, error)
	ListChats(ctx context.Context, notebookID string) ([]api.ThreadMeta, error)
	GetThreadMessages(ctx context.Context, threadID string) ([]api.WireMessage, error)
	SendMessage(ctx context.Context, req api.SendMessageRequest) error
	DeleteMessage(ctx context.Context, threadID, messageID string) error
	DeleteChat(ctx context.Context, chatID string) error
}

// PushConnector is the slice of the push manager the controller consumes.
type PushConnector interface {
	ConnectToThread(ctx context.Context, threadID string, handler push.Handler) error
	Disconnect()
}

// Options carries the per-controller send parameters.
type Options struct {
	NotebookID string
	Mode       string
	SubMode    string
}

// SendInput is one user-initiated send. At least one of Text/AudioRef must
// be set.
type SendInput struct {
	Text     string
	AudioRef string
}

// Controller orchestrates the store, the registry, the reconciler, the REST
// collaborator and the push manager in response to user actions. It is the
// only component that knows all of them.
//
// The internal mutex guards local state transitions only and is never held
// across a collaborator round-trip, so a slow send on one session cannot
// block a switch or delete on another, nor hold up snapshots arriving on the
// push stream. Results of a round-trip are applied under the mutex after
// re-validating that the target session still exists; the observed guarantee
// is applied-order, not issued-order.
type Controller struct {
	mu       sync.Mutex
	store    *Store
	registry *GenerationRegistry
	rec      *Reconciler
	client   APIClient
	conn     PushConnector
	opts     Options
	logger   *zap.Logger
}

// NewController wires the sync core together. All collaborators are injected;
// there is no ambient singleton.
func NewController(store *Store, registry *GenerationRegistry, client APIClient, conn PushConnector, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:    store,
		registry: registry,
		rec:      NewReconciler(store),
		client:   client,
		conn:     conn,
		opts:     opts,
		logger:   logger,
	}
}

// Bootstrap loads the existing chat list into the store. Transcripts load
// lazily on switch.
func (c *Controller) Bootstrap(ctx context.Context) error {
	metas, err := c.client.ListChats(ctx, c.opts.NotebookID)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	// The list endpoint makes no ordering promise; sort oldest first and
	// insert in that order so the newest chat ends up current.
	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, meta := range metas {
		c.store.InsertPersisted(sessionFromMeta(meta))
	}
	return nil
}

// NewTemporarySession creates an unsaved session and selects it.
func (c *Controller) NewTemporarySession(title string, webSearch bool) model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.NewTemporary(title, webSearch)
}

// Send appends an optimistic message to the current session, promotes the
// session if it is still temporary, issues the send, flags the thread as
// generating and redirects the push connection to it. Any transport failure
// rolls the optimistic message back and clears the flag before returning.
func (c *Controller) Send(ctx context.Context, input SendInput) error {
	if input.Text == "" && input.AudioRef == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	current, ok := c.store.Current()
	if !ok {
		c.mu.Unlock()
		return ErrNoSession
	}
	optimistic := model.NewPendingMessage(input.Text, input.AudioRef)
	if err := c.rec.AppendOptimistic(current.ID, optimistic); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	session := current
	if current.Temporary() {
		promoted, err := c.promote(ctx, current, input.Text)
		if err != nil {
			c.rollbackOptimistic(current.ID, optimistic.ID)
			return err
		}
		session = promoted
	}

	if err := c.client.SendMessage(ctx, api.SendMessageRequest{
		ThreadID: session.ThreadID,
		Text:     input.Text,
		AudioRef: input.AudioRef,
		Mode:     c.opts.Mode,
		SubMode:  c.opts.SubMode,
	}); err != nil {
		c.mu.Lock()
		c.rollbackOptimisticLocked(session.ID, optimistic.ID)
		c.registry.Remove(session.ThreadID)
		c.mu.Unlock()
		return fmt.Errorf("send message: %w", err)
	}

	c.registry.Add(session.ThreadID)
	c.connectPush(ctx, session.ThreadID)
	return nil
}

// promote replaces the temporary session with its persisted successor,
// carrying its messages over. The first message rides along in InitialText so
// the thread and the message are created atomically. The round-trip runs
// unlocked; the replacement re-validates that the temporary session survived
// it.
func (c *Controller) promote(ctx context.Context, temp model.Session, text string) (model.Session, error) {
	title := temp.Title
	if title == "" {
		title = titleFromText(text)
	}

	meta, err := c.client.CreateThread(ctx, api.CreateThreadRequest{
		Title:       title,
		NotebookID:  c.opts.NotebookID,
		InitialText: text,
		WebSearch:   temp.WebSearchEnabled,
		Mode:        c.opts.Mode,
		SubMode:     c.opts.SubMode,
	})
	if err != nil {
		return model.Session{}, fmt.Errorf("create thread: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fresh, ok := c.store.Get(temp.ID)
	if !ok {
		// Deleted while the thread was being created.
		return model.Session{}, ErrSessionNotFound
	}
	persisted := sessionFromMeta(meta)
	persisted.Messages = append([]model.Message(nil), fresh.Messages...)
	if err := c.store.Replace(temp.ID, persisted); err != nil {
		return model.Session{}, err
	}
	return persisted, nil
}

// rollbackOptimistic drops exactly the message a failed send appended. Keyed
// by id so a concurrent send's optimistic message on the same session is
// left alone.
func (c *Controller) rollbackOptimistic(sessionID, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbackOptimisticLocked(sessionID, messageID)
}

func (c *Controller) rollbackOptimisticLocked(sessionID, messageID string) {
	_ = c.rec.Rollback(sessionID, func(m model.Message) bool {
		return m.ID == messageID
	})
}

// SwitchTo moves the current pointer and, when the target is persisted,
// refetches its canonical transcript and redirects the push connection to
// it. Generation flags of other threads are never touched here.
func (c *Controller) SwitchTo(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if err := c.store.SwitchTo(sessionID); err != nil {
		c.mu.Unlock()
		return err
	}
	session, _ := c.store.Get(sessionID)
	c.mu.Unlock()

	if session.Temporary() {
		return nil
	}

	c.refreshThread(ctx, session.ThreadID)
	c.connectPush(ctx, session.ThreadID)
	return nil
}

// DeleteSession removes a session; persisted sessions are deleted on the
// server first. Deleting a session that is already gone is swallowed as a
// no-op failure.
func (c *Controller) DeleteSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	session, ok := c.store.Get(sessionID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("delete of unknown session ignored", zap.String("session", sessionID))
		return nil
	}

	if !session.Temporary() {
		if err := c.client.DeleteChat(ctx, session.ID); err != nil && !errors.Is(err, api.ErrNotFound) {
			return fmt.Errorf("delete chat: %w", err)
		}
		c.registry.Remove(session.ThreadID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Remove(sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}

// DeleteMessage removes one message server-side, then refetches the
// canonical transcript. Deletion is not optimistic: the local array changes
// only after the server confirms, trading latency for avoided flicker on
// failure.
func (c *Controller) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	if err := c.client.DeleteMessage(ctx, threadID, messageID); err != nil {
		if errors.Is(err, api.ErrNotFound) {
			c.logger.Debug("delete of unknown message ignored",
				zap.String("thread", threadID), zap.String("message", messageID))
			return nil
		}
		return fmt.Errorf("delete message: %w", err)
	}

	c.refreshThread(ctx, threadID)
	return nil
}

// Shutdown hard-tears-down the push connection. Used on logout/unmount only.
func (c *Controller) Shutdown() {
	c.conn.Disconnect()
}

// Sessions returns the session list, newest first.
func (c *Controller) Sessions() []model.Session {
	return c.store.Sessions()
}

// Current returns the selected session, if any.
func (c *Controller) Current() (model.Session, bool) {
	return c.store.Current()
}

// IsTyping reports whether the assistant is generating a reply for threadID.
func (c *Controller) IsTyping(threadID string) bool {
	return c.registry.IsTyping(threadID)
}

// Subscribe registers an observer notified after every store mutation.
func (c *Controller) Subscribe(fn func()) {
	c.store.Subscribe(fn)
}

// HandleOpen implements push.Handler.
func (c *Controller) HandleOpen(threadID string) {
	c.logger.Debug("push stream open", zap.String("thread", threadID))
}

// HandleEvent implements push.Handler. A message_update correlates to a
// session by the thread id inside its payload, so a completion for a thread
// the user has since switched away from still lands on the right session.
// An error event carries no thread id and is attributed to the thread the
// connection was opened for.
func (c *Controller) HandleEvent(threadID string, ev push.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Name {
	case push.EventMessageUpdate:
		var update push.MessageUpdate
		if err := json.Unmarshal(ev.Data, &update); err != nil {
			c.handleParseErrorLocked(threadID, err)
			return
		}
		if update.ThreadID == "" {
			c.handleParseErrorLocked(threadID, errors.New("message_update missing thread_id"))
			return
		}
		c.rec.ApplyPushSnapshot(update.ThreadID, messagesFromWire(update.Messages))
		c.registry.Remove(update.ThreadID)
	case push.EventError:
		var data push.ErrorData
		_ = json.Unmarshal(ev.Data, &data)
		c.logger.Warn("push reported generation error",
			zap.String("thread", threadID), zap.String("error", data.Error))
		c.registry.Remove(threadID)
	default:
		c.logger.Debug("unrecognized push event ignored",
			zap.String("thread", threadID), zap.String("event", ev.Name))
	}
}

// HandleStreamError implements push.Handler. The connection is already
// closed; the flag cleared is the one for the thread the connection was
// bound to, never the currently selected one.
func (c *Controller) HandleStreamError(threadID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Warn("push stream failed", zap.String("thread", threadID), zap.Error(err))
	c.registry.Remove(threadID)
}

// HandleParseError implements push.Handler. The failure is isolated to one
// delivery; only the bound thread's flag is cleared, defensively.
func (c *Controller) HandleParseError(threadID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handleParseErrorLocked(threadID, err)
}

func (c *Controller) handleParseErrorLocked(threadID string, err error) {
	c.logger.Warn("malformed push payload dropped",
		zap.String("thread", threadID), zap.Error(err))
	c.registry.Remove(threadID)
}

// refreshThread fetches the canonical transcript unlocked, then applies it
// with optimistic carryover under the mutex. Failures are recovered locally:
// a vanished thread is a no-op, transport errors are logged and the stale
// local array stands.
func (c *Controller) refreshThread(ctx context.Context, threadID string) {
	wire, err := c.client.GetThreadMessages(ctx, threadID)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			c.logger.Debug("refresh of vanished thread ignored", zap.String("thread", threadID))
			return
		}
		c.logger.Warn("transcript refresh failed", zap.String("thread", threadID), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.ApplyFetchedSnapshot(threadID, messagesFromWire(wire))
}

// connectPush redirects the push connection. A dial failure is a stream
// error: the target thread's flag is cleared and reconnection waits for the
// next user-driven switch or send.
func (c *Controller) connectPush(ctx context.Context, threadID string) {
	if err := c.conn.ConnectToThread(ctx, threadID, c); err != nil {
		c.logger.Warn("push connect failed", zap.String("thread", threadID), zap.Error(err))
		c.registry.Remove(threadID)
	}
}

func sessionFromMeta(meta api.ThreadMeta) model.Session {
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return model.Session{
		ID:               meta.ChatID,
		ThreadID:         meta.ThreadID,
		Title:            meta.Title,
		Messages:         make([]model.Message, 0, 8),
		CreatedAt:        createdAt,
		WebSearchEnabled: meta.WebSearch,
	}
}

// messagesFromWire maps backend rows onto the local model, dropping system
// rows. The server supplies no timestamps, so they are assigned at
// observation time as a display ordering hint.
func messagesFromWire(wire []api.WireMessage) []model.Message {
	observedAt := time.Now().UTC()
	out := make([]model.Message, 0, len(wire))
	for _, row := range wire {
		if row.System() {
			continue
		}
		role := model.RoleHuman
		if row.Role == api.WireRoleAI {
			role = model.RoleAssistant
		}
		out = append(out, model.Message{
			ID:        row.ID,
			Role:      role,
			Content:   row.Content,
			AudioURL:  row.Metadata().AudioURL,
			Timestamp: observedAt,
			Status:    model.StatusConfirmed,
		})
	}
	return out
}

func titleFromText(text string) string {
	const maxTitle = 40
	if utf8.RuneCountInString(text) <= maxTitle {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxTitle]) + "..."
}
