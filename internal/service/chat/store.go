// Package chat is the synchronization core: the session store, the
// per-thread generation registry, the optimistic merge policy, and the
// lifecycle controller that orchestrates them against the REST and push
// collaborators. The presentation layer observes the store and the registry
// and invokes the controller's operations; it touches nothing else.
package chat

import (
	"errors"
	"sort"
	"sync"

	model "threadsync/internal/model/chat"
)

var (
	// ErrSessionNotFound reports an operation against an unknown local
	// session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoSession reports an operation that needs a current session when
	// none is selected.
	ErrNoSession = errors.New("no current session")
)

// Store holds every client-side session keyed by local id, plus the
// currently selected one. It performs no I/O; refetches on switch are the
// controller's job. All mutations notify subscribers, so presentation code
// observes state instead of polling it.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]model.Session
	order     []string // most recently inserted first
	currentID string
	subs      []func()
}

// NewStore bootstraps an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]model.Session),
	}
}

// Subscribe registers fn to run after every mutation. Subscribers must not
// mutate the store from inside the callback.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// NewTemporary inserts a fresh unsaved session, prepends it and makes it
// current.
func (s *Store) NewTemporary(title string, webSearch bool) model.Session {
	session := model.NewTemporarySession(title, webSearch)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.order = append([]string{session.ID}, s.order...)
	s.currentID = session.ID
	s.mu.Unlock()

	s.notify()
	return session
}

// InsertPersisted inserts an already-persisted session, prepends it and
// makes it current.
func (s *Store) InsertPersisted(session model.Session) {
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.order = append([]string{session.ID}, s.order...)
	s.currentID = session.ID
	s.mu.Unlock()

	s.notify()
}

// Replace swaps the session stored under oldID for its successor, keeping
// the list position. Used for promotion: the temporary session is replaced,
// never merely updated.
func (s *Store) Replace(oldID string, session model.Session) error {
	s.mu.Lock()
	if _, ok := s.sessions[oldID]; !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, oldID)
	s.sessions[session.ID] = session
	for i, id := range s.order {
		if id == oldID {
			s.order[i] = session.ID
			break
		}
	}
	if s.currentID == oldID {
		s.currentID = session.ID
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// SwitchTo moves the current pointer only.
func (s *Store) SwitchTo(sessionID string) error {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	s.currentID = sessionID
	s.mu.Unlock()

	s.notify()
	return nil
}

// Remove deletes a session. When the removed session was current, the
// newest remaining session becomes current, or none remain selected; whether
// to auto-create a fresh temporary session is the caller's policy.
func (s *Store) Remove(sessionID string) error {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.currentID == sessionID {
		s.currentID = ""
		if newest := s.sortedLocked(); len(newest) > 0 {
			s.currentID = newest[0].ID
		}
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Get returns a copy of the session with the given local id.
func (s *Store) Get(sessionID string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return model.Session{}, false
	}
	return copySession(session), true
}

// FindByThread returns a copy of the session bound to threadID.
func (s *Store) FindByThread(threadID string) (model.Session, bool) {
	if threadID == "" {
		return model.Session{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.ThreadID == threadID {
			return copySession(session), true
		}
	}
	return model.Session{}, false
}

// Current returns a copy of the selected session, if any.
func (s *Store) Current() (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentID == "" {
		return model.Session{}, false
	}
	session, ok := s.sessions[s.currentID]
	if !ok {
		return model.Session{}, false
	}
	return copySession(session), true
}

// Sessions returns copies of every session, newest first by CreatedAt.
func (s *Store) Sessions() []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// SetMessages replaces the session's message array wholesale. Snapshots
// replace, they never merge field-by-field.
func (s *Store) SetMessages(sessionID string, messages []model.Message) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	session.Messages = append([]model.Message(nil), messages...)
	s.sessions[sessionID] = session
	s.mu.Unlock()

	s.notify()
	return nil
}

// AppendMessage appends one message. Message ids are unique within a
// session; an append whose id is already present is dropped.
func (s *Store) AppendMessage(sessionID string, message model.Message) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	for _, existing := range session.Messages {
		if existing.ID == message.ID {
			s.mu.Unlock()
			return nil
		}
	}
	session.Messages = append(session.Messages, message)
	s.sessions[sessionID] = session
	s.mu.Unlock()

	s.notify()
	return nil
}

// FilterMessages keeps only the messages for which keep returns true.
func (s *Store) FilterMessages(sessionID string, keep func(model.Message) bool) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	kept := session.Messages[:0:0]
	for _, message := range session.Messages {
		if keep(message) {
			kept = append(kept, message)
		}
	}
	session.Messages = kept
	s.sessions[sessionID] = session
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Store) sortedLocked() []model.Session {
	out := make([]model.Session, 0, len(s.order))
	for _, id := range s.order {
		if session, ok := s.sessions[id]; ok {
			out = append(out, copySession(session))
		}
	}
	// order already has newest insertions first; stable sort keeps that
	// ranking for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) notify() {
	s.mu.RLock()
	subs := append(make([]func(), 0, len(s.subs)), s.subs...)
	s.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}

func copySession(session model.Session) model.Session {
	session.Messages = append([]model.Message(nil), session.Messages...)
	return session
}
