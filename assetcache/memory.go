package assetcache

import (
	"context"
	"fmt"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMemoryEntries = 512

// MemoryStorage keeps every generation in a bounded LRU. Nothing survives a
// restart.
type MemoryStorage struct {
	mu      sync.Mutex
	entries int
	caches  map[string]*lru.Cache[string, *Response]
}

func NewMemoryStorage(entries int) *MemoryStorage {
	if entries <= 0 {
		entries = DefaultMemoryEntries
	}

	return &MemoryStorage{
		entries: entries,
		caches:  make(map[string]*lru.Cache[string, *Response]),
	}
}

func (s *MemoryStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("cache name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.caches[name]
	if !ok {
		var err error
		c, err = lru.New[string, *Response](s.entries)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache %s: %w", name, err)
		}

		s.caches[name] = c
	}

	return &memoryCache{lru: c}, nil
}

func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.caches))
	for k := range s.caches {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.caches[name]
	if !ok {
		return false, nil
	}

	c.Purge()
	delete(s.caches, name)
	return true, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

type memoryCache struct {
	lru *lru.Cache[string, *Response]
}

func (c *memoryCache) Match(ctx context.Context, url string, opts MatchOptions) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r, ok := c.lru.Get(url); ok {
		return r.Clone(), nil
	}
	if !opts.IgnoreSearch {
		return nil, ErrNotFound
	}

	path := StripSearch(url)
	for _, k := range c.lru.Keys() {
		if StripSearch(k) != path {
			continue
		}
		if r, ok := c.lru.Get(k); ok {
			return r.Clone(), nil
		}
	}

	return nil, ErrNotFound
}

func (c *memoryCache) Put(ctx context.Context, url string, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.lru.Add(url, resp.Clone())
	return nil
}
