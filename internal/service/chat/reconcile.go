package chat

import (
	model "threadsync/internal/model/chat"
)

// Reconciler is the merge policy between optimistic local writes and
// canonical server snapshots.
//
// Racing snapshots for the same thread resolve last-applied-wins: a slow
// fetch can overwrite a fresher push-delivered snapshot. Snapshots carry no
// version, so no sequence guard is applied here.
type Reconciler struct {
	store *Store
}

// NewReconciler builds a reconciler over the given store.
func NewReconciler(store *Store) *Reconciler {
	return &Reconciler{store: store}
}

// AppendOptimistic pushes a locally authored message onto the session before
// any network round-trip completes.
func (r *Reconciler) AppendOptimistic(sessionID string, message model.Message) error {
	return r.store.AppendMessage(sessionID, message)
}

// ApplyFetchedSnapshot replaces the matching session's messages with the
// canonical array, carrying over optimistic messages that are still pending
// and not yet present in the snapshot. This keeps a message the user just
// sent from vanishing when a refresh races ahead of the server persisting it.
// A snapshot for a thread no session matches is a harmless no-op.
func (r *Reconciler) ApplyFetchedSnapshot(threadID string, canonical []model.Message) {
	session, ok := r.store.FindByThread(threadID)
	if !ok {
		return
	}

	seen := make(map[string]struct{}, len(canonical))
	for _, message := range canonical {
		seen[message.ID] = struct{}{}
	}

	merged := append([]model.Message(nil), canonical...)
	for _, message := range session.Messages {
		if _, confirmed := seen[message.ID]; message.Pending() && !confirmed {
			merged = append(merged, message)
		}
	}

	_ = r.store.SetMessages(session.ID, merged)
}

// ApplyPushSnapshot unconditionally replaces the matching session's messages
// with the canonical array. A push event is proof the server has fully
// processed the exchange, so no optimistic carryover applies.
func (r *Reconciler) ApplyPushSnapshot(threadID string, canonical []model.Message) {
	session, ok := r.store.FindByThread(threadID)
	if !ok {
		return
	}
	_ = r.store.SetMessages(session.ID, canonical)
}

// Rollback removes the messages matching drop; used when a send fails
// outright.
func (r *Reconciler) Rollback(sessionID string, drop func(model.Message) bool) error {
	return r.store.FilterMessages(sessionID, func(message model.Message) bool {
		return !drop(message)
	})
}
