// Package devserver is an in-memory stand-in for the chat backend. It
// implements the REST contract the client consumes plus the per-thread push
// endpoint, and answers every send with a canned assistant reply after a
// configurable delay. It backs the mockd command and the integration tests.
package devserver

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"threadsync/internal/api"
	"threadsync/internal/push"
	"threadsync/pkg/utils"
)

// ErrorTrigger in a message body makes the server push an error event
// instead of a reply. Handy for exercising failure paths by hand.
const ErrorTrigger = "!error"

// Server holds the fake backend state.
type Server struct {
	logger     *zap.Logger
	replyDelay time.Duration

	mu       sync.Mutex
	chats    map[string]*thread // by chat id
	byThread map[string]*thread // by thread id
	watchers map[string][]*watcher
}

type thread struct {
	meta         api.ThreadMeta
	notebookID   string
	messages     []api.WireMessage
	replyPending bool
}

// New builds an empty dev server. replyDelay is how long a "generation"
// takes before the assistant reply is pushed.
func New(replyDelay time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:     logger,
		replyDelay: replyDelay,
		chats:      make(map[string]*thread),
		byThread:   make(map[string]*thread),
		watchers:   make(map[string][]*watcher),
	}
}

// SeedThread preloads a thread, bypassing the REST surface. Test helper.
func (s *Server) SeedThread(meta api.ThreadMeta, notebookID string, messages []api.WireMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &thread{
		meta:       meta,
		notebookID: notebookID,
		messages:   append([]api.WireMessage(nil), messages...),
	}
	s.chats[meta.ChatID] = t
	s.byThread[meta.ThreadID] = t
}

// PushError emits an error event to every watcher of threadID.
func (s *Server) PushError(threadID, message string) {
	s.broadcast(threadID, push.EventError, push.ErrorData{Error: message})
}

func (s *Server) createThread(req api.CreateThreadRequest) api.ThreadMeta {
	meta := api.ThreadMeta{
		ChatID:    uuid.NewString(),
		ThreadID:  uuid.NewString(),
		Title:     req.Title,
		CreatedAt: time.Now().UTC(),
		WebSearch: req.WebSearch,
	}
	if meta.Title == "" && req.InitialText != "" {
		meta.Title = req.InitialText
	}

	t := &thread{meta: meta, notebookID: req.NotebookID}

	s.mu.Lock()
	s.chats[meta.ChatID] = t
	s.byThread[meta.ThreadID] = t
	if req.InitialText != "" {
		t.messages = append(t.messages, humanMessage(req.InitialText, ""))
		t.replyPending = true
	}
	s.mu.Unlock()

	if req.InitialText != "" {
		s.scheduleReply(meta.ThreadID, req.InitialText)
	}
	return meta
}

// appendMessage stores an inbound human message. A send whose content
// matches the newest stored message is the client re-posting the text it
// already created atomically with the thread; it is absorbed instead of
// duplicated.
func (s *Server) appendMessage(threadID string, req api.SendMessageRequest) bool {
	s.mu.Lock()
	t, ok := s.byThread[threadID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	if n := len(t.messages); n > 0 {
		last := t.messages[n-1]
		if last.Role == api.WireRoleHuman && last.Content == req.Text && req.Text != "" {
			pending := t.replyPending
			s.mu.Unlock()
			if !pending {
				s.markPendingAndSchedule(threadID, req.Text)
			}
			return true
		}
	}

	audioURL := req.AudioRef
	t.messages = append(t.messages, humanMessage(req.Text, audioURL))
	t.replyPending = true
	s.mu.Unlock()

	s.scheduleReply(threadID, req.Text)
	return true
}

func (s *Server) markPendingAndSchedule(threadID, text string) {
	s.mu.Lock()
	if t, ok := s.byThread[threadID]; ok {
		t.replyPending = true
	}
	s.mu.Unlock()
	s.scheduleReply(threadID, text)
}

// scheduleReply fakes generation: after replyDelay the assistant reply is
// appended and a message_update carrying the full transcript is pushed.
func (s *Server) scheduleReply(threadID, userText string) {
	go func() {
		time.Sleep(s.replyDelay)

		if strings.Contains(userText, ErrorTrigger) {
			s.mu.Lock()
			if t, ok := s.byThread[threadID]; ok {
				t.replyPending = false
			}
			s.mu.Unlock()
			s.PushError(threadID, "generation failed")
			return
		}

		s.mu.Lock()
		t, ok := s.byThread[threadID]
		if !ok {
			s.mu.Unlock()
			return
		}
		t.messages = append(t.messages, api.WireMessage{
			ID:      uuid.NewString(),
			Role:    api.WireRoleAI,
			Content: replyText(userText),
		})
		t.replyPending = false
		snapshot := append([]api.WireMessage(nil), t.messages...)
		s.mu.Unlock()

		s.broadcast(threadID, push.EventMessageUpdate, push.MessageUpdate{
			ThreadID: threadID,
			Messages: snapshot,
		})
	}()
}

func (s *Server) snapshotMessages(threadID string) ([]api.WireMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byThread[threadID]
	if !ok {
		return nil, false
	}
	return append([]api.WireMessage(nil), t.messages...), true
}

func (s *Server) deleteMessage(threadID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byThread[threadID]
	if !ok {
		return false
	}
	for i, message := range t.messages {
		if message.ID == messageID {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Server) deleteChat(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.chats[chatID]
	if !ok {
		return false
	}
	delete(s.chats, chatID)
	delete(s.byThread, t.meta.ThreadID)
	return true
}

func (s *Server) listChats(notebookID string) []api.ThreadMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.ThreadMeta, 0, len(s.chats))
	for _, t := range s.chats {
		if notebookID != "" && t.notebookID != notebookID {
			continue
		}
		out = append(out, t.meta)
	}
	return out
}

func (s *Server) broadcast(threadID, event string, data interface{}) {
	s.mu.Lock()
	targets := append([]*watcher(nil), s.watchers[threadID]...)
	s.mu.Unlock()

	for _, w := range targets {
		if err := w.send(event, data); err != nil {
			s.logger.Debug("push write failed", zap.String("thread", threadID), zap.Error(err))
		}
	}
}

// watcher is one websocket subscriber. Writes are serialized per
// connection.
type watcher struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *watcher) send(event string, data interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return utils.SendEvent(w.conn, event, data)
}

func humanMessage(text, audioURL string) api.WireMessage {
	message := api.WireMessage{
		ID:      uuid.NewString(),
		Role:    api.WireRoleHuman,
		Content: text,
	}
	if audioURL != "" {
		if meta, err := json.Marshal(api.MessageMetadata{AudioURL: audioURL}); err == nil {
			message.AdditionalMetadata = meta
		}
	}
	return message
}

func replyText(userText string) string {
	if userText == "" {
		return "Received your audio message."
	}
	return "You said: " + userText
}
