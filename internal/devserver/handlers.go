package devserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"threadsync/internal/api"
	"threadsync/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req api.CreateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	meta := s.createThread(req)
	s.logger.Info("thread created",
		zap.String("chat", meta.ChatID), zap.String("thread", meta.ThreadID))
	utils.RespondJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	notebookID := r.URL.Query().Get("notebookId")
	utils.RespondJSON(w, http.StatusOK, s.listChats(notebookID))
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if !s.deleteChat(chatID) {
		utils.RespondError(w, http.StatusNotFound, "chat not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	messages, ok := s.snapshotMessages(threadID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "thread not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	var req api.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" && req.AudioRef == "" && len(req.AudioData) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "text or audio is required")
		return
	}

	if !s.appendMessage(threadID, req) {
		utils.RespondError(w, http.StatusNotFound, "thread not found")
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	messageID := chi.URLParam(r, "messageID")
	if !s.deleteMessage(threadID, messageID) {
		utils.RespondError(w, http.StatusNotFound, "message not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleEvents upgrades to a websocket and streams push frames for one
// thread until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("push upgrade failed", zap.Error(err))
		return
	}

	subscriber := &watcher{conn: conn}
	s.mu.Lock()
	s.watchers[threadID] = append(s.watchers[threadID], subscriber)
	s.mu.Unlock()
	s.logger.Debug("push watcher attached", zap.String("thread", threadID))

	// Inbound traffic is ignored; the read loop only detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	active := s.watchers[threadID]
	for i, candidate := range active {
		if candidate == subscriber {
			s.watchers[threadID] = append(active[:i], active[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	_ = conn.Close()
	s.logger.Debug("push watcher detached", zap.String("thread", threadID))
}
