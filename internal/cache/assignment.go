package cache

import (
	"sync"
	"time"
)

type assignmentEntry struct {
	assistant string
	expires   time.Time
}

// AssignmentCache is the in-memory read-through cache in front of the
// persisted chat→assistant assignments. Entries expire after a bounded TTL
// so external edits (e.g. clearing an assignment) are eventually picked up.
type AssignmentCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[int64]assignmentEntry
}

// NewAssignmentCache creates a cache with the given entry TTL.
func NewAssignmentCache(ttl time.Duration) *AssignmentCache {
	return &AssignmentCache{
		ttl:     ttl,
		entries: make(map[int64]assignmentEntry),
	}
}

// Get returns the cached assistant for a chat, or ok=false when absent or
// expired. Expired entries are dropped lazily.
func (c *AssignmentCache) Get(chatID int64) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[chatID]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expires) {
		c.mu.Lock()
		if cur, ok := c.entries[chatID]; ok && cur.expires.Equal(entry.expires) {
			delete(c.entries, chatID)
		}
		c.mu.Unlock()
		return "", false
	}
	return entry.assistant, true
}

// Set records the assistant for a chat.
func (c *AssignmentCache) Set(chatID int64, assistant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[chatID] = assignmentEntry{
		assistant: assistant,
		expires:   time.Now().Add(c.ttl),
	}
}

// Delete drops a chat's cached assignment.
func (c *AssignmentCache) Delete(chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, chatID)
}
