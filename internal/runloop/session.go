package runloop

import (
	"sync"
	"time"
)

// SessionState is what the loop remembers about one client between messages.
type SessionState struct {
	ProfileID      string
	ConversationID string
	LastRunID      string
	UpdatedAt      time.Time
}

// SessionCache maps client session ids to their conversation. Entries idle
// longer than ttl are treated as absent; a zero ttl keeps them forever.
type SessionCache struct {
	mu      sync.Mutex
	entries map[string]SessionState
	ttl     time.Duration
	now     func() time.Time
}

// NewSessionCache creates an empty cache.
func NewSessionCache(ttl time.Duration) *SessionCache {
	return &SessionCache{entries: make(map[string]SessionState), ttl: ttl, now: time.Now}
}

// Get returns the state for id, or the zero state.
func (c *SessionCache) Get(id string) SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.entries[id]
	if !ok {
		return SessionState{}
	}
	if c.ttl > 0 && c.now().Sub(state.UpdatedAt) > c.ttl {
		delete(c.entries, id)
		return SessionState{}
	}
	return state
}

// Put stores state for id.
func (c *SessionCache) Put(id string, state SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state.UpdatedAt = c.now()
	c.entries[id] = state
}

// Delete forgets id.
func (c *SessionCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Len returns the number of cached sessions, expired or not.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
