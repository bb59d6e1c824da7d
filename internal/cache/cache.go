// Package cache fronts the persistent translation cache with an
// in-memory LRU so repeat lookups of hot fingerprints skip the database
// read. The store remains the source of truth; the memory tier is an
// accelerator only.
package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/allaspectsdev/lingoproxy/internal/store"
)

// DefaultMaxEntries bounds the in-memory tier.
const DefaultMaxEntries = 1024

// TranslationCache is the two-tier cache over translation rows.
type TranslationCache struct {
	memory *lru.Cache[string, *store.Translation]
	store  *store.Store
}

// New creates a TranslationCache over st. maxEntries <= 0 selects the
// default size.
func New(st *store.Store, maxEntries int) (*TranslationCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	memory, err := lru.New[string, *store.Translation](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: creating LRU: %w", err)
	}
	return &TranslationCache{memory: memory, store: st}, nil
}

// expired reports whether a memory-tier entry has passed its expiry.
func expired(t *store.Translation) bool {
	if !t.ExpiresAt.Valid {
		return false
	}
	exp, err := time.Parse(time.RFC3339, t.ExpiresAt.String)
	if err != nil {
		// Unparseable expiry: treat as expired and let the store decide.
		return true
	}
	return time.Now().After(exp)
}

// Get returns the cached translation for key, or (nil, nil) on miss.
// Memory hits are validated against their expiry; stale entries fall
// through to the store, which applies the authoritative filter.
func (c *TranslationCache) Get(ctx context.Context, key string) (*store.Translation, error) {
	if t, ok := c.memory.Get(key); ok && !expired(t) {
		return t, nil
	}

	t, err := c.store.GetTranslation(ctx, key)
	if err != nil {
		return nil, err
	}
	if t == nil {
		c.memory.Remove(key)
		return nil, nil
	}
	c.memory.Add(key, t)
	return t, nil
}

// Put upserts the row and drops any memory-tier copy so the next Get
// observes the store's authoritative timestamps.
func (c *TranslationCache) Put(ctx context.Context, t *store.Translation) error {
	if err := c.store.UpsertTranslation(ctx, t); err != nil {
		return err
	}
	c.memory.Remove(t.CacheKey)
	return nil
}

// Touch advances last_accessed_at in the store and evicts the memory
// copy, whose timestamp is now stale.
func (c *TranslationCache) Touch(ctx context.Context, key string) error {
	if err := c.store.TouchTranslation(ctx, key); err != nil {
		return err
	}
	c.memory.Remove(key)
	return nil
}

// Purge empties the memory tier. The persistent tier is untouched.
func (c *TranslationCache) Purge() {
	c.memory.Purge()
}
