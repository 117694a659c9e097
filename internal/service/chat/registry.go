package chat

import "sync"

// GenerationRegistry answers "is this thread currently generating a reply?".
// It is keyed by thread id only, never by local session id, since only
// persisted sessions can generate. Entries are added when a send reaches the
// server and removed when a terminal push event for that exact thread is
// observed, or when a send against it fails immediately.
//
// Several threads can be flagged at once even though only one push
// connection is open: a thread flagged at send time stays flagged while
// unwatched, and clears only once the user revisits it and a terminal event
// arrives.
type GenerationRegistry struct {
	mu     sync.RWMutex
	typing map[string]struct{}
}

// NewGenerationRegistry bootstraps an empty registry.
func NewGenerationRegistry() *GenerationRegistry {
	return &GenerationRegistry{typing: make(map[string]struct{})}
}

// Add flags threadID as generating.
func (r *GenerationRegistry) Add(threadID string) {
	if threadID == "" {
		return
	}
	r.mu.Lock()
	r.typing[threadID] = struct{}{}
	r.mu.Unlock()
}

// Remove clears the flag for threadID.
func (r *GenerationRegistry) Remove(threadID string) {
	r.mu.Lock()
	delete(r.typing, threadID)
	r.mu.Unlock()
}

// IsTyping reports whether threadID is currently generating.
func (r *GenerationRegistry) IsTyping(threadID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.typing[threadID]
	return ok
}
