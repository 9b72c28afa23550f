// Package memory is the exact-key response cache consulted before any
// provider call. It lives in process with the orchestrator: bounded, TTL
// checked on read, oldest entry evicted first.
package memory

import (
	"container/list"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lexroute-ai/lexroute/pkg/models"
)

const (
	// DefaultTTL keeps generation responses fresh enough for repeat
	// submissions without serving stale analyses.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries bounds resident memory.
	DefaultMaxEntries = 1024
)

type entry struct {
	key       string
	resp      models.NormalizedResponse
	createdAt time.Time
}

// Cache is an exact-match response cache. Safe for concurrent use; the lock
// is never held over anything blocking.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	entries    map[string]*list.Element
	order      *list.List // front = oldest insert

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a Cache with the given capacity and TTL. Non-positive values
// fall back to the defaults.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Key computes the cache key for a request: SHA-256 over the sanitized
// prompt plus every request attribute that changes the answer. Params
// marshal with sorted keys, so the key is deterministic.
func Key(req *models.GenerationRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Prompt))
	meta, _ := json.Marshal(struct {
		OperationType string            `json:"operation_type"`
		Provider      string            `json:"provider"`
		Model         string            `json:"model"`
		MaxTokens     int               `json:"max_tokens"`
		Temperature   *float64          `json:"temperature,omitempty"`
		Params        map[string]string `json:"params,omitempty"`
	}{req.OperationType, req.Provider, req.Model, req.MaxTokens, req.Temperature, req.Params})
	h.Write(meta)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get retrieves a cached response. The returned copy carries Cached=true.
// Expired entries are removed and counted as misses.
func (c *Cache) Get(key string) (*models.NormalizedResponse, bool) {
	c.mu.Lock()
	el, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	ent := el.Value.(*entry)
	if time.Since(ent.createdAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	resp := ent.resp
	c.mu.Unlock()

	c.hits.Add(1)
	resp.Cached = true
	return &resp, true
}

// Put stores a response. Storing an existing key replaces the entry and
// refreshes its insert position. At capacity the oldest entry is evicted;
// Put never fails the request path.
func (c *Cache) Put(key string, resp *models.NormalizedResponse) {
	if resp == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
		c.evictions.Add(1)
	}

	ent := &entry{key: key, resp: *resp, createdAt: time.Now()}
	ent.resp.Cached = false
	c.entries[key] = c.order.PushBack(ent)
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	entries := int64(len(c.entries))
	c.mu.Unlock()
	return models.CacheStats{
		Entries:   entries,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Clear removes entries and reports how many were dropped. With expiredOnly
// set, only entries past their TTL are removed.
func (c *Cache) Clear(expiredOnly bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		ent := el.Value.(*entry)
		if !expiredOnly || time.Since(ent.createdAt) > c.ttl {
			c.order.Remove(el)
			delete(c.entries, ent.key)
			removed++
		}
		el = next
	}
	return removed
}
