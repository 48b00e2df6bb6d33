// Package cache provides the in-memory agent-profile cache invalidated by
// the lifecycle manager after every mutating operation.
//
// Cache incoherence is a lesser failure than a lost write: invalidation
// failures are logged by the caller and never fail the originating
// operation.
package cache

import (
	"sync"
	"time"
)

// ProfileCache is a TTL'd in-memory cache of agent definition content keyed
// by agent name. The lifecycle manager reads content through it and
// invalidates entries after every mutation, so API content reads skip the
// tier directories on repeat lookups.
type ProfileCache struct {
	mu      sync.RWMutex
	entries map[string]cachedEntry
	ttl     time.Duration
	done    chan struct{}
}

type cachedEntry struct {
	content   string
	expiresAt time.Time
}

// New creates a cache with the given TTL.
// Call Close to stop the background eviction goroutine.
func New(ttl time.Duration) *ProfileCache {
	c := &ProfileCache{
		entries: make(map[string]cachedEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Get returns the cached content and true if a valid entry exists.
func (c *ProfileCache) Get(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[name]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.content, true
}

// Set stores content for an agent with the configured TTL.
func (c *ProfileCache) Set(name, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[name] = cachedEntry{
		content:   content,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate drops any cached entry for the agent. Safe to call for names
// that were never cached.
func (c *ProfileCache) Invalidate(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, name)
	return nil
}

// Len returns the number of entries currently held (including expired ones
// not yet evicted).
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background eviction goroutine.
func (c *ProfileCache) Close() {
	close(c.done)
}

// evictLoop removes expired entries every minute.
func (c *ProfileCache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *ProfileCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
