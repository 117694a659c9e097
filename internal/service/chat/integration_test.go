package chat_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"threadsync/internal/api"
	"threadsync/internal/devserver"
	model "threadsync/internal/model/chat"
	"threadsync/internal/push"
	chat "threadsync/internal/service/chat"
)

// Full round trip against the in-memory backend over real HTTP and
// websockets: send, promotion, typing flag, pushed reply.

type harness struct {
	controller *chat.Controller
	registry   *chat.GenerationRegistry
	backend    *devserver.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	backend := devserver.New(30*time.Millisecond, nil)
	srv := httptest.NewServer(devserver.NewRouter(backend))
	t.Cleanup(srv.Close)

	client := api.NewClient(srv.URL, 2*time.Second, nil)
	manager := push.NewManager("ws"+strings.TrimPrefix(srv.URL, "http"), 2*time.Second, nil)
	t.Cleanup(manager.Disconnect)

	store := chat.NewStore()
	registry := chat.NewGenerationRegistry()
	controller := chat.NewController(store, registry, client, manager, chat.Options{}, nil)
	return &harness{controller: controller, registry: registry, backend: backend}
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) currentMessages(t *testing.T) []model.Message {
	t.Helper()
	current, ok := h.controller.Current()
	if !ok {
		t.Fatal("no current session")
	}
	return current.Messages
}

func TestSendReceivesPushedReply(t *testing.T) {
	h := newHarness(t)
	h.controller.NewTemporarySession("", false)

	if err := h.controller.Send(context.Background(), chat.SendInput{Text: "hello"}); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	current, ok := h.controller.Current()
	if !ok || current.Temporary() {
		t.Fatalf("session should be promoted after send, got %+v", current)
	}
	if !h.controller.IsTyping(current.ThreadID) {
		t.Fatal("thread should be flagged as generating right after send")
	}
	messages := h.currentMessages(t)
	if len(messages) != 1 || !messages[0].Pending() {
		t.Fatalf("expected one pending optimistic message, got %+v", messages)
	}

	waitFor(t, "pushed reply", func() bool {
		return len(h.currentMessages(t)) == 2
	})

	messages = h.currentMessages(t)
	if messages[0].Pending() {
		t.Fatal("push snapshot should have confirmed the human message")
	}
	if messages[1].Role != model.RoleAssistant || messages[1].Content != "You said: hello" {
		t.Fatalf("unexpected reply: %+v", messages[1])
	}
	if h.controller.IsTyping(current.ThreadID) {
		t.Fatal("typing flag should clear once the reply lands")
	}
}

// A reply that completes while another session is selected must land on the
// originating session and clear only its flag.
func TestReplyLandsOnBackgroundSession(t *testing.T) {
	h := newHarness(t)
	h.controller.NewTemporarySession("", false)

	if err := h.controller.Send(context.Background(), chat.SendInput{Text: "slow question"}); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	origin, _ := h.controller.Current()

	// Switch away before the reply arrives. A temporary session leaves the
	// push connection bound to the origin thread.
	fresh := h.controller.NewTemporarySession("", false)
	current, _ := h.controller.Current()
	if current.ID != fresh.ID {
		t.Fatalf("expected the fresh session to be selected, got %s", current.ID)
	}

	waitFor(t, "background reply", func() bool {
		session, ok := h.findSession(origin.ID)
		return ok && len(session.Messages) == 2
	})

	session, _ := h.findSession(origin.ID)
	if session.Messages[1].Role != model.RoleAssistant {
		t.Fatalf("reply missing on origin session: %+v", session.Messages)
	}
	if h.controller.IsTyping(origin.ThreadID) {
		t.Fatal("origin thread flag should be cleared")
	}
	if current, _ := h.controller.Current(); current.ID != fresh.ID {
		t.Fatal("selection must not move when a background reply lands")
	}
}

func (h *harness) findSession(id string) (model.Session, bool) {
	for _, session := range h.controller.Sessions() {
		if session.ID == id {
			return session, true
		}
	}
	return model.Session{}, false
}

func TestGenerationErrorClearsTypingFlag(t *testing.T) {
	h := newHarness(t)
	h.controller.NewTemporarySession("", false)

	if err := h.controller.Send(context.Background(), chat.SendInput{Text: devserver.ErrorTrigger}); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	current, _ := h.controller.Current()

	waitFor(t, "typing flag to clear on error", func() bool {
		return !h.controller.IsTyping(current.ThreadID)
	})

	messages := h.currentMessages(t)
	if len(messages) != 1 {
		t.Fatalf("no reply should be appended on error, got %+v", messages)
	}
}

func TestSwitchRefetchesCanonicalTranscript(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedThread(api.ThreadMeta{
		ChatID:    "c1",
		ThreadID:  "t1",
		Title:     "seeded",
		CreatedAt: time.Now().UTC(),
	}, "", []api.WireMessage{
		{ID: "m1", Role: api.WireRoleHuman, Content: "earlier question"},
		{ID: "m2", Role: api.WireRoleAI, Content: "earlier answer"},
	})

	if err := h.controller.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap err: %v", err)
	}
	current, ok := h.controller.Current()
	if !ok || current.ID != "c1" {
		t.Fatalf("expected the seeded chat to be current, got %+v", current)
	}
	if len(current.Messages) != 0 {
		t.Fatal("transcripts load lazily, not at bootstrap")
	}

	if err := h.controller.SwitchTo(context.Background(), "c1"); err != nil {
		t.Fatalf("SwitchTo err: %v", err)
	}
	messages := h.currentMessages(t)
	if len(messages) != 2 || messages[0].Content != "earlier question" {
		t.Fatalf("unexpected transcript after switch: %+v", messages)
	}
}

func TestDeletePersistedSessionEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.controller.NewTemporarySession("", false)
	if err := h.controller.Send(context.Background(), chat.SendInput{Text: "to be deleted"}); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	current, _ := h.controller.Current()

	if err := h.controller.DeleteSession(context.Background(), current.ID); err != nil {
		t.Fatalf("DeleteSession err: %v", err)
	}
	if len(h.controller.Sessions()) != 0 {
		t.Fatal("session should be gone locally")
	}

	// Repeating the delete hits the already-gone path and must stay silent.
	if err := h.controller.DeleteSession(context.Background(), current.ID); err != nil {
		t.Fatalf("second delete should be swallowed, got %v", err)
	}
}
