// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package logring_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekolahdesk/sekolahdesk/internal/logring"
)

func write(t *testing.T, r *logring.Ring, line string) {
	t.Helper()
	n, err := r.Write([]byte(line + "\n"))
	require.NoError(t, err)
	assert.Equal(t, len(line)+1, n)
}

func TestRingKeepsNewestLines(t *testing.T) {
	t.Parallel()

	r := logring.New(3)
	for i := 1; i <= 5; i++ {
		write(t, r, fmt.Sprintf("line %d", i))
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.History(0))
	assert.Equal(t, []string{"line 4", "line 5"}, r.History(2))
	// Asking for more than stored returns everything.
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.History(10))
}

func TestRingEmpty(t *testing.T) {
	t.Parallel()

	r := logring.New(4)
	assert.Zero(t, r.Len())
	assert.Nil(t, r.History(5))
}

func TestRingClear(t *testing.T) {
	t.Parallel()

	r := logring.New(4)
	write(t, r, "a")
	write(t, r, "b")
	r.Clear()

	assert.Zero(t, r.Len())
	assert.Nil(t, r.History(0))

	write(t, r, "c")
	assert.Equal(t, []string{"c"}, r.History(0))
}

func TestRingConcurrentWrites(t *testing.T) {
	t.Parallel()

	r := logring.New(64)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				_, _ = r.Write(fmt.Appendf(nil, "g%d-%d\n", g, i))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 64, r.Len())
	assert.Len(t, r.History(0), 64)
}
