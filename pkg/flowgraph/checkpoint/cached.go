package checkpoint

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore keeps the latest checkpoint of recently active threads in an
// LRU cache in front of another Store. Every engine step begins with a
// Latest() read, so active sessions never touch the backing store for reads.
//
// The cache is write-through: Save updates the backing store first and only
// then the cache, so a failed write never leaves a phantom latest entry.
type CachedStore struct {
	Store
	latest *lru.Cache[string, []byte]
}

// NewCachedStore wraps inner with an LRU of up to size threads.
func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create latest-checkpoint cache: %w", err)
	}
	return &CachedStore{Store: inner, latest: cache}, nil
}

// Save implements Store.
func (c *CachedStore) Save(ctx context.Context, threadID, nodeID string, data []byte) error {
	if err := c.Store.Save(ctx, threadID, nodeID, data); err != nil {
		c.latest.Remove(threadID)
		return err
	}
	c.latest.Add(threadID, cloneBytes(data))
	return nil
}

// Latest implements Store.
func (c *CachedStore) Latest(ctx context.Context, threadID string) ([]byte, error) {
	if data, ok := c.latest.Get(threadID); ok {
		return cloneBytes(data), nil
	}
	data, err := c.Store.Latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	c.latest.Add(threadID, cloneBytes(data))
	return data, nil
}

// Delete implements Store. The cached latest entry is dropped because the
// deleted node may have been the latest one.
func (c *CachedStore) Delete(ctx context.Context, threadID, nodeID string) error {
	c.latest.Remove(threadID)
	return c.Store.Delete(ctx, threadID, nodeID)
}

// DeleteThread implements Store.
func (c *CachedStore) DeleteThread(ctx context.Context, threadID string) error {
	c.latest.Remove(threadID)
	return c.Store.DeleteThread(ctx, threadID)
}

// Close implements Store.
func (c *CachedStore) Close() error {
	c.latest.Purge()
	return c.Store.Close()
}

// Cached returns the number of threads currently cached.
func (c *CachedStore) Cached() int {
	return c.latest.Len()
}
