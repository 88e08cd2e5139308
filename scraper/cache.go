package scraper

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingFetcher keeps recent 2xx pages in memory for the life of a run.
// Album pages are read by both stages of an artist unit and the first album
// list page doubles as the pagination probe; repeats are served from here.
type CachingFetcher struct {
	next    Fetcher
	cache   *lru.Cache[string, Response]
	metrics *Metrics
}

// NewCachingFetcher wraps next with an LRU of the given size.
func NewCachingFetcher(next Fetcher, size int, metrics *Metrics) (*CachingFetcher, error) {
	cache, err := lru.New[string, Response](size)
	if err != nil {
		return nil, fmt.Errorf("create page cache: %w", err)
	}
	return &CachingFetcher{next: next, cache: cache, metrics: metrics}, nil
}

// Fetch returns a cached page or fetches and caches it.
func (c *CachingFetcher) Fetch(ctx context.Context, rawURL string) (Response, error) {
	if resp, ok := c.cache.Get(rawURL); ok {
		c.metrics.IncCacheHit()
		return resp, nil
	}
	resp, err := c.next.Fetch(ctx, rawURL)
	if err != nil {
		return resp, err
	}
	if resp.OK() {
		c.cache.Add(rawURL, resp)
	}
	return resp, nil
}

// Len returns the number of cached pages.
func (c *CachingFetcher) Len() int {
	return c.cache.Len()
}
