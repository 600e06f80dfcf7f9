package embedding

import (
	"container/list"
	"context"
	"sync"
)

// queryCache is an LRU cache for query embeddings keyed by text.
type queryCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

func newQueryCache(capacity int) *queryCache {
	return &queryCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func (c *queryCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

func (c *queryCache) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}
	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.cache[key] = elem
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// CachingProvider wraps a Provider with an LRU cache for query embeddings.
// Document embeddings are not cached; each chunk is embedded exactly once
// during ingestion anyway.
type CachingProvider struct {
	inner Provider
	cache *queryCache
}

// NewCachingProvider wraps inner with a query-embedding cache of the given capacity.
func NewCachingProvider(inner Provider, capacity int) *CachingProvider {
	if capacity <= 0 {
		capacity = 1000
	}
	return &CachingProvider{inner: inner, cache: newQueryCache(capacity)}
}

// EmbedDocuments delegates to the wrapped provider.
func (p *CachingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return p.inner.EmbedDocuments(ctx, texts)
}

// EmbedQuery returns a cached embedding when the same text was embedded before.
func (p *CachingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := p.cache.get(text); ok {
		return v, nil
	}
	v, err := p.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.set(text, v)
	return v, nil
}

// Close closes the wrapped provider.
func (p *CachingProvider) Close() error {
	return p.inner.Close()
}
