// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
)

const defaultNormalizerTTL = 5 * time.Minute

// TransformFunc is a function that transforms K to V.
type TransformFunc[K, V any] func(K) V

// Normalizer caches transformed results so we do not repeatedly transform
// the same inputs. Sorting and filtering fold the same few thousand names
// over and over; the cache makes that a map hit.
type Normalizer[K comparable, V any] struct {
	cache     *ttlcache.Cache[K, V]
	transform TransformFunc[K, V]
}

// NewNormalizer returns a normalizer with the provided TTL and transform function for cached entries.
func NewNormalizer[K comparable, V any](ttl time.Duration, transform TransformFunc[K, V]) *Normalizer[K, V] {
	cache := ttlcache.New(ttlcache.Options[K, V]{}.
		SetDefaultTTL(ttl))
	return &Normalizer[K, V]{
		cache:     cache,
		transform: transform,
	}
}

// NewNameNormalizer returns a normalizer using the default TTL and FoldName.
func NewNameNormalizer() *Normalizer[string, string] {
	return NewNormalizer(defaultNormalizerTTL, FoldName)
}

// Normalize returns the transformed value.
func (n *Normalizer[K, V]) Normalize(key K) V {
	if cached, ok := n.cache.Get(key); ok {
		return cached
	}

	transformed := n.transform(key)
	n.cache.Set(key, transformed, ttlcache.DefaultTTL)
	return transformed
}

// Clear removes a cached entry.
func (n *Normalizer[K, V]) Clear(key K) {
	n.cache.Delete(key)
}

// DefaultNameNormalizer is a statically allocated normalizer for person names.
var DefaultNameNormalizer = NewNameNormalizer()

// FoldName folds a person name for comparison and search:
//   - Unicode normalization (removes diacritics, decomposes ligatures)
//   - Lowercase
//   - Strip apostrophes and periods (titles like "Drs." and "M.Pd.")
//   - Strip commas (degree suffixes like "Siti, S.Pd")
//   - Collapse runs of whitespace to single spaces
//
// Examples:
//   - "Andréa Wijaya" → "andrea wijaya"
//   - "Drs. H. Ahmad, M.Pd." → "drs h ahmad mpd"
//   - "Nur'aini" → "nuraini"
func FoldName(s string) string {
	s = NormalizeUnicode(s)

	s = strings.ToLower(strings.TrimSpace(s))

	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "’", "")
	s = strings.ReplaceAll(s, "‘", "")
	s = strings.ReplaceAll(s, "`", "")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")

	s = strings.Join(strings.Fields(s), " ")

	return s
}
