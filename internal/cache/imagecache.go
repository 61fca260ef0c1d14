// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cache holds the three in-process caches fronting the database:
// a byte-budgeted photo cache, a name-to-id lookup cache for the small
// reference tables, and a string interner. All three are pure derived state;
// dropping any of them at any time only costs a re-read from the database.
package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// EntityKind namespaces photo cache keys so student and inventory ids can
// share one store without collision.
type EntityKind string

const (
	// KindStudent prefixes student photo keys.
	KindStudent EntityKind = "s"
	// KindInventory prefixes inventory photo keys.
	KindInventory EntityKind = "i"
)

// DefaultImageBudget is the total byte budget for cached photos.
const DefaultImageBudget = 50 * 1024 * 1024

// ImageCache is a cost-bounded blob cache keyed by entity kind and row id.
// Eviction is delegated to ristretto's admission/eviction policy with each
// entry costed at its byte length.
type ImageCache struct {
	cache *ristretto.Cache[string, []byte]
}

// NewImageCache returns an image cache bounded to budget bytes. A
// non-positive budget uses DefaultImageBudget.
func NewImageCache(budget int64) (*ImageCache, error) {
	if budget <= 0 {
		budget = DefaultImageBudget
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10_000,
		MaxCost:     budget,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create image cache: %w", err)
	}
	return &ImageCache{cache: c}, nil
}

func imageKey(kind EntityKind, id int64) string {
	return fmt.Sprintf("%s_%d", kind, id)
}

// Set stores a photo blob under the given kind and id, costed at its length.
func (c *ImageCache) Set(kind EntityKind, id int64, data []byte) {
	c.cache.Set(imageKey(kind, id), data, int64(len(data)))
}

// Get returns the cached blob, or nil and false on a miss. Misses are not
// errors; the caller falls back to the database.
func (c *ImageCache) Get(kind EntityKind, id int64) ([]byte, bool) {
	return c.cache.Get(imageKey(kind, id))
}

// Clear drops one entry.
func (c *ImageCache) Clear(kind EntityKind, id int64) {
	c.cache.Del(imageKey(kind, id))
}

// ClearAll drops every entry. Called after a global save and on database swap.
func (c *ImageCache) ClearAll() {
	c.cache.Clear()
}

// Wait blocks until pending Set operations have been applied. Only needed by
// tests; ristretto admits entries asynchronously.
func (c *ImageCache) Wait() {
	c.cache.Wait()
}

// Close releases the underlying cache resources.
func (c *ImageCache) Close() {
	c.cache.Close()
}
