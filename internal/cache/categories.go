// Package cache holds small bounded caches for hot lookup paths.
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCategoryCacheSize = 1024

// CategoryLoader fetches an image's category code from the catalog.
type CategoryLoader func(ctx context.Context, imageID int64) (string, error)

// Categories is a bounded LRU cache of image ID to category code. Category
// codes are immutable after upload, so entries only need invalidation when
// an image is deleted.
type Categories struct {
	cache  *lru.Cache[int64, string]
	loader CategoryLoader
}

// NewCategories creates the cache. A size of zero or less falls back to the
// default capacity.
func NewCategories(size int, loader CategoryLoader) (*Categories, error) {
	if loader == nil {
		return nil, fmt.Errorf("category loader cannot be nil")
	}
	if size <= 0 {
		size = defaultCategoryCacheSize
	}

	cache, err := lru.New[int64, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create category cache: %w", err)
	}

	return &Categories{
		cache:  cache,
		loader: loader,
	}, nil
}

// Get returns the category code for an image, loading and caching it on a
// miss.
func (c *Categories) Get(ctx context.Context, imageID int64) (string, error) {
	if code, ok := c.cache.Get(imageID); ok {
		return code, nil
	}

	code, err := c.loader(ctx, imageID)
	if err != nil {
		return "", err
	}

	c.cache.Add(imageID, code)
	return code, nil
}

// Invalidate drops an image's cached entry.
func (c *Categories) Invalidate(imageID int64) {
	c.cache.Remove(imageID)
}

// Len returns the number of cached entries.
func (c *Categories) Len() int {
	return c.cache.Len()
}
