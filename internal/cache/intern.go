// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import "sync"

// Interner deduplicates the short strings that repeat across thousands of
// row objects (student names, subject names, class labels). Scanning a
// roster allocates one canonical copy per distinct value instead of one per
// row. This is purely a memory optimization, never a correctness mechanism:
// clearing it at any point only means the next Intern re-adds the value.
type Interner struct {
	mu   sync.RWMutex
	pool map[string]string
}

// NewInterner returns an empty pool.
func NewInterner() *Interner {
	return &Interner{pool: make(map[string]string)}
}

// Intern returns the canonical instance of s, adding it on first sight.
func (i *Interner) Intern(s string) string {
	if s == "" {
		return ""
	}

	i.mu.RLock()
	canonical, ok := i.pool[s]
	i.mu.RUnlock()
	if ok {
		return canonical
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if canonical, ok := i.pool[s]; ok {
		return canonical
	}
	i.pool[s] = s
	return s
}

// Len reports the number of distinct strings held.
func (i *Interner) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.pool)
}

// Clear empties the pool.
func (i *Interner) Clear() {
	i.mu.Lock()
	i.pool = make(map[string]string)
	i.mu.Unlock()
}
