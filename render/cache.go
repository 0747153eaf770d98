// ABOUTME: In-memory cache over Render keyed by a sha256 of the status report and output format.
// ABOUTME: Lets polling status clients share one rendering per persisted state, with TTL expiry.
package render

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/2389-research/taskrunner/runner"
)

// RenderFunc is the signature of the rendering function the cache wraps.
type RenderFunc func(ctx context.Context, report runner.StatusReport, format string) ([]byte, error)

type cacheEntry struct {
	data      []byte
	createdAt time.Time
}

// RenderCache wraps a RenderFunc with an in-memory cache. Two reports that
// encode to the same JSON share an entry, so a report is rendered again
// only after the underlying record changes or the entry expires.
type RenderCache struct {
	renderFn RenderFunc
	ttl      time.Duration
	entries  map[string]*cacheEntry
	mu       sync.RWMutex
}

// NewRenderCache creates a RenderCache whose entries expire after ttl.
func NewRenderCache(renderFn RenderFunc, ttl time.Duration) *RenderCache {
	return &RenderCache{
		renderFn: renderFn,
		ttl:      ttl,
		entries:  make(map[string]*cacheEntry),
	}
}

// Render returns a cached rendering when one is fresh. Errors are never cached.
func (c *RenderCache) Render(ctx context.Context, report runner.StatusReport, format string) ([]byte, error) {
	key, err := cacheKey(report, format)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	if entry, ok := c.entries[key]; ok && time.Since(entry.createdAt) < c.ttl {
		data := entry.data
		c.mu.RUnlock()
		return data, nil
	}
	c.mu.RUnlock()

	data, err := c.renderFn(ctx, report, format)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.pruneLocked()
	c.entries[key] = &cacheEntry{data: data, createdAt: time.Now()}
	c.mu.Unlock()
	return data, nil
}

// Len returns the number of entries, expired ones included.
func (c *RenderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *RenderCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// pruneLocked drops expired entries so a long-lived server does not keep
// one entry per state it ever served.
func (c *RenderCache) pruneLocked() {
	for k, e := range c.entries {
		if time.Since(e.createdAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
}

func cacheKey(report runner.StatusReport, format string) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	return fmt.Sprintf("%x:%s", sha256.Sum256(data), format), nil
}
