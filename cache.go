package structex

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// CacheEntry is a stored pipeline result. Entries are never mutated, only
// replaced or evicted by an external policy.
type CacheEntry struct {
	Fingerprint string
	Result      Result
	CreatedAt   time.Time
	Provider    string
}

// Cache is the content-addressed store of prior results consulted before
// every provider call. Implementations must be safe for concurrent use.
type Cache interface {
	Get(fingerprint string) (*CacheEntry, bool)
	Put(entry *CacheEntry) error
}

// Fingerprint derives the deterministic cache key from document content,
// prompt, schema and provider identity.
func Fingerprint(document []byte, prompt string, schema *Schema, provider string) string {
	h := sha256.New()
	h.Write(document)
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	if schema != nil {
		// JSONMap is deterministic enough for hashing: json.Marshal sorts
		// map keys.
		if raw, err := json.Marshal(schema.JSONMap()); err == nil {
			h.Write(raw)
		}
	}
	h.Write([]byte{0})
	h.Write([]byte(provider))
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]*CacheEntry{}}
}

func (c *MemoryCache) Get(fingerprint string) (*CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[fingerprint]
	return e, ok
}

func (c *MemoryCache) Put(entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Fingerprint] = entry
	return nil
}

// Len reports the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
