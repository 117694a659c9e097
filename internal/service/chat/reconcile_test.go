package chat_test

import (
	"reflect"
	"testing"
	"time"

	model "threadsync/internal/model/chat"
	chat "threadsync/internal/service/chat"
)

func confirmedMessage(id, content string, role model.Role) model.Message {
	return model.Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Status:    model.StatusConfirmed,
	}
}

func setupReconciler(t *testing.T) (*chat.Store, *chat.Reconciler, model.Session) {
	t.Helper()
	store := chat.NewStore()
	rec := chat.NewReconciler(store)
	session := persistedSession("c1", "t1", time.Now().UTC())
	store.InsertPersisted(session)
	return store, rec, session
}

func TestFetchedSnapshotCarriesPendingMessages(t *testing.T) {
	store, rec, session := setupReconciler(t)

	pending := model.NewPendingMessage("just sent", "")
	if err := rec.AppendOptimistic(session.ID, pending); err != nil {
		t.Fatalf("AppendOptimistic err: %v", err)
	}

	// Canonical snapshot taken before the server persisted the new message.
	canonical := []model.Message{
		confirmedMessage("m1", "older question", model.RoleHuman),
		confirmedMessage("m2", "older answer", model.RoleAssistant),
	}
	rec.ApplyFetchedSnapshot("t1", canonical)

	got, _ := store.Get(session.ID)
	if len(got.Messages) != 3 {
		t.Fatalf("expected canonical + pending carryover, got %d messages", len(got.Messages))
	}
	last := got.Messages[2]
	if last.ID != pending.ID || !last.Pending() {
		t.Fatalf("expected pending message to survive, got %+v", last)
	}
}

func TestFetchedSnapshotDropsConfirmedOptimistic(t *testing.T) {
	store, rec, session := setupReconciler(t)

	pending := model.NewPendingMessage("now persisted", "")
	if err := rec.AppendOptimistic(session.ID, pending); err != nil {
		t.Fatalf("AppendOptimistic err: %v", err)
	}

	// The snapshot already contains the message under its optimistic id.
	canonical := []model.Message{
		confirmedMessage(pending.ID, "now persisted", model.RoleHuman),
	}
	rec.ApplyFetchedSnapshot("t1", canonical)

	got, _ := store.Get(session.ID)
	if len(got.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got.Messages))
	}
	if got.Messages[0].Pending() {
		t.Fatal("confirmed message should not be carried over as pending")
	}
}

func TestPushSnapshotReplacesWithoutCarryover(t *testing.T) {
	store, rec, session := setupReconciler(t)

	if err := rec.AppendOptimistic(session.ID, model.NewPendingMessage("racing", "")); err != nil {
		t.Fatalf("AppendOptimistic err: %v", err)
	}

	canonical := []model.Message{
		confirmedMessage("m1", "question", model.RoleHuman),
		confirmedMessage("m2", "answer", model.RoleAssistant),
	}
	rec.ApplyPushSnapshot("t1", canonical)

	got, _ := store.Get(session.ID)
	if !reflect.DeepEqual(got.Messages, canonical) {
		t.Fatalf("push snapshot must replace wholesale, got %+v", got.Messages)
	}
}

func TestPushSnapshotIdempotent(t *testing.T) {
	store, rec, _ := setupReconciler(t)

	canonical := []model.Message{
		confirmedMessage("m1", "question", model.RoleHuman),
		confirmedMessage("m2", "answer", model.RoleAssistant),
	}
	rec.ApplyPushSnapshot("t1", canonical)
	first, _ := store.FindByThread("t1")

	rec.ApplyPushSnapshot("t1", canonical)
	second, _ := store.FindByThread("t1")

	if !reflect.DeepEqual(first.Messages, second.Messages) {
		t.Fatal("applying the same push snapshot twice must be idempotent")
	}
}

func TestSnapshotForUnknownThreadIsNoop(t *testing.T) {
	store, rec, session := setupReconciler(t)

	rec.ApplyPushSnapshot("deleted-thread", []model.Message{
		confirmedMessage("m1", "stale", model.RoleAssistant),
	})
	rec.ApplyFetchedSnapshot("deleted-thread", nil)

	got, _ := store.Get(session.ID)
	if len(got.Messages) != 0 {
		t.Fatalf("unrelated session must stay untouched, got %d messages", len(got.Messages))
	}
}

func TestRollbackRemovesPendingOnly(t *testing.T) {
	store, rec, session := setupReconciler(t)

	confirmed := confirmedMessage("m1", "kept", model.RoleHuman)
	if err := store.SetMessages(session.ID, []model.Message{confirmed}); err != nil {
		t.Fatalf("SetMessages err: %v", err)
	}
	if err := rec.AppendOptimistic(session.ID, model.NewPendingMessage("dropped", "")); err != nil {
		t.Fatalf("AppendOptimistic err: %v", err)
	}

	if err := rec.Rollback(session.ID, model.Message.Pending); err != nil {
		t.Fatalf("Rollback err: %v", err)
	}

	got, _ := store.Get(session.ID)
	if len(got.Messages) != 1 || got.Messages[0].ID != "m1" {
		t.Fatalf("expected only the confirmed message to remain, got %+v", got.Messages)
	}
}

func TestLastAppliedSnapshotWins(t *testing.T) {
	store, rec, _ := setupReconciler(t)

	fresh := []model.Message{confirmedMessage("m1", "fresh", model.RoleAssistant)}
	stale := []model.Message{confirmedMessage("m0", "stale", model.RoleAssistant)}

	rec.ApplyPushSnapshot("t1", fresh)
	rec.ApplyFetchedSnapshot("t1", stale)

	got, _ := store.FindByThread("t1")
	if len(got.Messages) != 1 || got.Messages[0].ID != "m0" {
		t.Fatalf("last applied snapshot must win, got %+v", got.Messages)
	}
}
