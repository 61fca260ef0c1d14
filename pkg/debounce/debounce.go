// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package debounce coalesces bursts of work into a single trailing
// execution. Used by the database file monitor, where cloud sync clients
// fire remove/rename/create storms for one logical replacement.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs at most one function per delay window. Calls within a
// window replace the pending function; the latest one runs when the
// window closes.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	pending func()
	stopped bool
}

func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Do schedules fn to run once the current window closes, replacing any
// previously scheduled function. After Stop, fn runs synchronously.
func (d *Debouncer) Do(fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		fn()
		return
	}
	d.pending = fn
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
	}
	d.mu.Unlock()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Queued reports whether a window is open with work pending.
func (d *Debouncer) Queued() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Cancel drops any pending function without running it. The debouncer
// stays usable.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	timer := d.timer
	d.timer = nil
	d.pending = nil
	d.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}

// Stop cancels the timer and runs any pending function immediately, so a
// scheduled piece of work is never silently lost on shutdown. Idempotent.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	timer := d.timer
	fn := d.pending
	d.timer = nil
	d.pending = nil
	d.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if fn != nil {
		fn()
	}
}
