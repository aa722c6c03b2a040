package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// CachedStore serves Load from an in-memory cache and writes through to
// the wrapped store on Save. Cached values are clones, so callers may
// mutate what they receive.
type CachedStore struct {
	Store
	cache  *ristretto.Cache
	logger *slog.Logger

	// mu orders cache writes so a slow Load cannot replace a newer
	// version stored by Save.
	mu sync.Mutex
}

// NewCachedStore wraps inner with a cache holding roughly maxStates
// conversation states.
func NewCachedStore(inner Store, maxStates int64, logger *slog.Logger) (*CachedStore, error) {
	if maxStates <= 0 {
		maxStates = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxStates * 10,
		MaxCost:     maxStates,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create state cache: %w", err)
	}
	return &CachedStore{Store: inner, cache: cache, logger: logger}, nil
}

// Load returns a cached state when present, otherwise loads from the
// wrapped store. Fresh default states are not cached.
func (c *CachedStore) Load(ctx context.Context, threadID string) (*ConversationState, error) {
	if st, ok := c.cached(threadID); ok {
		c.logger.Debug("state cache hit", "thread", threadID, "version", st.Version)
		return st.Clone(), nil
	}

	st, err := c.Store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if st.Version > 0 {
		c.put(st)
	}
	return st, nil
}

// Save writes through and refreshes the cached copy. On failure the
// cached entry is dropped so the next Load reads the store.
func (c *CachedStore) Save(ctx context.Context, st *ConversationState) (*ConversationState, error) {
	saved, err := c.Store.Save(ctx, st)
	if err != nil {
		c.mu.Lock()
		c.cache.Del(st.ThreadID)
		c.cache.Wait()
		c.mu.Unlock()
		return nil, err
	}
	c.put(saved)
	return saved, nil
}

func (c *CachedStore) cached(threadID string) (*ConversationState, bool) {
	v, ok := c.cache.Get(threadID)
	if !ok {
		return nil, false
	}
	st, ok := v.(*ConversationState)
	return st, ok
}

// put caches a copy of st unless the cache already holds the same or a
// newer version. Writes are applied before put returns, and a write the
// cache refuses evicts the key instead of leaving an older copy behind.
func (c *CachedStore) put(st *ConversationState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.cached(st.ThreadID); ok && cur.Version >= st.Version {
		return
	}
	if !c.cache.Set(st.ThreadID, st.Clone(), 1) {
		c.logger.Debug("state cache write dropped", "thread", st.ThreadID, "version", st.Version)
		c.cache.Del(st.ThreadID)
	}
	c.cache.Wait()
}

// Close releases the cache and closes the wrapped store.
func (c *CachedStore) Close() error {
	c.cache.Close()
	return c.Store.Close()
}
