package relay

import "sync"

// Registry is the process-wide mapping from user identity to the identifier
// of that user's currently active connection. It is the single source of
// truth for whether a user is reachable right now.
//
// At most one connection ID is mapped per user; a newer join for the same
// user supersedes the previous mapping (last writer wins). All operations
// take the registry mutex for their full read-modify-write, so interleaved
// Set/RemoveIfMatches calls from different connection goroutines cannot
// leave a torn entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]string // userID -> connID
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]string)}
}

// Set maps userID to connID, overwriting any previous entry for userID.
func (r *Registry) Set(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[userID] = connID
}

// Get returns the connection ID currently mapped for userID, if any.
func (r *Registry) Get(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.entries[userID]
	return connID, ok
}

// Remove deletes the entry for userID. Removing an absent entry is a no-op.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, userID)
}

// RemoveIfMatches deletes the entry for userID only when it still maps to
// connID, and reports whether it did. A teardown handler running late for a
// stale connection must use this so it cannot evict the mapping a newer
// session installed in the meantime.
func (r *Registry) RemoveIfMatches(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.entries[userID]; ok && current == connID {
		delete(r.entries, userID)
		return true
	}
	return false
}

// Len returns the number of mapped users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
