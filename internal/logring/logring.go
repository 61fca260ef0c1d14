// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package logring keeps the most recent log lines in memory so the
// embedding app can show a diagnostics panel without re-reading the log
// file from disk.
package logring

import (
	"bytes"
	"sync"
)

const defaultSize = 1000

// Ring is a fixed-capacity ring buffer of log lines. It implements
// io.Writer so it can sit in the logger's writer stack; each Write is
// one rendered log line.
type Ring struct {
	mu       sync.RWMutex
	lines    []string
	size     int
	writePos int
	count    int
}

// New returns a ring holding up to size lines. A non-positive size uses
// the default.
func New(size int) *Ring {
	if size <= 0 {
		size = defaultSize
	}
	return &Ring{
		lines: make([]string, size),
		size:  size,
	}
}

// Write stores one log line, evicting the oldest when full. Always
// succeeds; a log sink must never propagate errors back into logging.
func (r *Ring) Write(p []byte) (int, error) {
	line := string(bytes.TrimRight(p, "\r\n"))

	r.mu.Lock()
	r.lines[r.writePos] = line
	r.writePos = (r.writePos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
	r.mu.Unlock()

	return len(p), nil
}

// History returns the last n lines, oldest first. n <= 0 or n beyond the
// stored count returns everything.
func (r *Ring) History(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	if n == 0 {
		return nil
	}

	out := make([]string, n)
	start := (r.writePos - n + r.size) % r.size
	for i := range n {
		out[i] = r.lines[(start+i)%r.size]
	}
	return out
}

// Len reports how many lines are stored.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear empties the ring.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.lines {
		r.lines[i] = ""
	}
	r.writePos = 0
	r.count = 0
}
