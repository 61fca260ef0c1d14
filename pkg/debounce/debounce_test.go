// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debounce_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekolahdesk/sekolahdesk/pkg/debounce"
)

func TestDebouncerRunsLatestOnce(t *testing.T) {
	t.Parallel()

	d := debounce.New(30 * time.Millisecond)
	defer d.Stop()

	var ran atomic.Int64
	var last atomic.Int64
	for i := int64(1); i <= 5; i++ {
		i := i
		d.Do(func() {
			ran.Add(1)
			last.Store(i)
		})
	}
	assert.True(t, d.Queued())

	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 5, last.Load())
	assert.False(t, d.Queued())
}

func TestDebouncerReopensWindow(t *testing.T) {
	t.Parallel()

	d := debounce.New(20 * time.Millisecond)
	defer d.Stop()

	var ran atomic.Int64
	d.Do(func() { ran.Add(1) })
	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)

	d.Do(func() { ran.Add(1) })
	require.Eventually(t, func() bool { return ran.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDebouncerStopFlushesPending(t *testing.T) {
	t.Parallel()

	d := debounce.New(time.Hour)

	var ran atomic.Int64
	d.Do(func() { ran.Add(1) })
	d.Stop()
	assert.EqualValues(t, 1, ran.Load())

	// After Stop, work runs synchronously.
	d.Do(func() { ran.Add(1) })
	assert.EqualValues(t, 2, ran.Load())

	// Stop is idempotent.
	d.Stop()
}

func TestDebouncerCancelDropsPending(t *testing.T) {
	t.Parallel()

	d := debounce.New(20 * time.Millisecond)
	defer d.Stop()

	var ran atomic.Int64
	d.Do(func() { ran.Add(1) })
	d.Cancel()
	assert.False(t, d.Queued())

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, ran.Load())

	// Cancel does not kill the debouncer.
	d.Do(func() { ran.Add(1) })
	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDebouncerStopWithoutPending(t *testing.T) {
	t.Parallel()

	d := debounce.New(time.Millisecond)
	d.Stop()
	assert.False(t, d.Queued())
}
