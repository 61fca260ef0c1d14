// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekolahdesk/sekolahdesk/internal/events"
)

func TestBusFansOutToEverySubscriber(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(4)
	defer bus.Close()

	a, cancelA := bus.Subscribe()
	defer cancelA()
	b, cancelB := bus.Subscribe()
	defer cancelB()

	ev := events.Event{Kind: events.StudentAdded, IDs: []int64{7}, Name: "Ani"}
	bus.Publish(ev)

	got := <-a
	assert.Equal(t, ev, got)
	got = <-b
	assert.Equal(t, ev, got)
}

func TestBusCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(4)
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	cancel()

	// The channel is closed; a publish after cancel must not panic and
	// must not resurrect the subscriber.
	bus.Publish(events.Event{Kind: events.StudentAdded, IDs: []int64{1}})

	_, open := <-ch
	assert.False(t, open)

	// Cancelling twice is a no-op.
	cancel()
}

func TestBusCoalescesLaggingSubscriber(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(2)
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	// Fill the queue without draining, then overflow it. The backlog must
	// collapse into a single ReloadAll rather than block the publisher.
	bus.Publish(events.Event{Kind: events.StudentAdded, IDs: []int64{1}})
	bus.Publish(events.Event{Kind: events.StudentEdited, IDs: []int64{1}})
	bus.Publish(events.Event{Kind: events.GradeChanged, IDs: []int64{9}})

	got := <-ch
	assert.Equal(t, events.ReloadAll, got.Kind)

	select {
	case ev, open := <-ch:
		t.Fatalf("unexpected extra event %+v (open=%v)", ev, open)
	default:
	}

	// The subscriber keeps working after catching up.
	bus.Publish(events.Event{Kind: events.EnrollmentChanged, IDs: []int64{1}, ClassID: 3})
	got = <-ch
	assert.Equal(t, events.EnrollmentChanged, got.Kind)
	assert.EqualValues(t, 3, got.ClassID)
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(0)
	ch, cancel := bus.Subscribe()

	bus.Close()
	bus.Close() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Cancel after close must not panic.
	cancel()

	// Publish after close is dropped.
	bus.Publish(events.Event{Kind: events.ReloadAll})
}

func TestBusSubscribeAfterClose(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(0)
	bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	_, open := <-ch
	require.False(t, open)
}
