// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package events carries change notifications between the data core and the
// open projections. Payloads identify rows by id, never by index: a row's
// position differs between projections and shifts under concurrent edits, so
// every subscriber recomputes its own insertion point from the identity.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Kind discriminates event payloads.
type Kind int

const (
	// ReloadAll tells every projection to rebuild from the database.
	ReloadAll Kind = iota
	// StudentAdded carries the new student's id.
	StudentAdded
	// StudentRemoved carries the removed ids plus the class they were
	// visible under, so class rosters can drop them without a reload.
	StudentRemoved
	// StudentEdited carries the edited id; the new values are read back
	// from the database by each subscriber.
	StudentEdited
	// EnrollmentChanged covers promote/undo-promote and activate/
	// undo-activate transitions on a student-class link.
	EnrollmentChanged
	// GradeChanged carries the grade row id and its enrollment id.
	GradeChanged
	// DatabaseSwapped fires when the backing file is replaced or reloaded.
	// All caches must clear before trusting any further read.
	DatabaseSwapped
	// FileMissing fires when the monitor sees the backing file deleted or
	// renamed while connected. The embedding app must choose reload or
	// terminate; the core never auto-resolves this.
	FileMissing
)

// Event is a change notification. Only identity travels on the bus.
type Event struct {
	Kind    Kind
	IDs     []int64 // affected row identities
	ClassID int64   // class context for roster-scoped events, 0 otherwise
	Name    string  // new display name for StudentEdited, "" otherwise
}

// Bus is a bounded fan-out publisher. Delivery is non-blocking: a subscriber
// that falls behind has its queue replaced by a single ReloadAll, which is
// always a correct (if expensive) substitute for any missed sequence.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

const defaultBuffer = 64

// NewBus returns a bus whose subscriber channels buffer up to buffer events.
// A non-positive buffer uses the default.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function. The channel is closed on cancel or bus Close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking the caller.
// A full subscriber queue is drained and coalesced into ReloadAll.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.coalesce(id, ch)
		}
	}
}

// coalesce empties a lagging subscriber's queue and enqueues ReloadAll.
// Called with b.mu held.
func (b *Bus) coalesce(id int, ch chan Event) {
	log.Warn().Int("subscriber", id).Msg("event subscriber lagging, coalescing to full reload")
	for {
		select {
		case <-ch:
		default:
			// Queue is empty now; there is guaranteed room for one event
			// because only Publish (serialized by b.mu) ever sends.
			ch <- Event{Kind: ReloadAll}
			return
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
