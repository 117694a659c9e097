package devserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the REST and push routes onto the dev server.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(api chi.Router) {
		api.Post("/chats", s.handleCreateThread)
		api.Get("/chats", s.handleListChats)
		api.Delete("/chats/{chatID}", s.handleDeleteChat)

		api.Get("/threads/{threadID}/messages", s.handleGetMessages)
		api.Post("/threads/{threadID}/messages", s.handleSendMessage)
		api.Delete("/threads/{threadID}/messages/{messageID}", s.handleDeleteMessage)

		api.Get("/threads/{threadID}/events", s.handleEvents)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
