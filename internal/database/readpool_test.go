// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPool opens a real database file first so the pool's read-only
// connections have something to attach to.
func newTestPool(t *testing.T, size int) *ReadPool {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pool.db")
	db, err := New(path, Options{SkipSeed: true, PoolSize: size})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pool, err := NewReadPool(path, size)
	require.NoError(t, err)
	t.Cleanup(pool.CloseAll)
	return pool
}

func TestReadPoolParallelReads(t *testing.T) {
	pool := newTestPool(t, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Read(ctx, func(conn *sql.Conn) error {
				var one int
				return conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestReadPoolServesWaitersInArrivalOrder(t *testing.T) {
	pool := newTestPool(t, 1)
	ctx := context.Background()

	// Occupy the single worker.
	holding := make(chan struct{})
	releaseHold := make(chan struct{})
	go func() {
		_ = pool.Read(ctx, func(conn *sql.Conn) error {
			close(holding)
			<-releaseHold
			return nil
		})
	}()
	<-holding

	// Queue three waiters, spaced so their arrival order is deterministic.
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := pool.Read(ctx, func(conn *sql.Conn) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}(i)
		time.Sleep(50 * time.Millisecond)
	}

	close(releaseHold)
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, order, "waiters must be served oldest first")
}

func TestReadPoolAcquireHonorsContextCancellation(t *testing.T) {
	pool := newTestPool(t, 1)

	holding := make(chan struct{})
	releaseHold := make(chan struct{})
	go func() {
		_ = pool.Read(context.Background(), func(conn *sql.Conn) error {
			close(holding)
			<-releaseHold
			return nil
		})
	}()
	<-holding
	defer close(releaseHold)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := pool.Read(ctx, func(conn *sql.Conn) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadPoolWorkerNotLostAfterCancelledWaiter(t *testing.T) {
	pool := newTestPool(t, 1)
	ctx := context.Background()

	holding := make(chan struct{})
	releaseHold := make(chan struct{})
	go func() {
		_ = pool.Read(ctx, func(conn *sql.Conn) error {
			close(holding)
			<-releaseHold
			return nil
		})
	}()
	<-holding

	cancelled, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_ = pool.Read(cancelled, func(conn *sql.Conn) error { return nil })

	close(releaseHold)

	// The worker must still be obtainable.
	quick, quickCancel := context.WithTimeout(ctx, 2*time.Second)
	defer quickCancel()
	err := pool.Read(quick, func(conn *sql.Conn) error {
		var one int
		return conn.QueryRowContext(quick, "SELECT 1").Scan(&one)
	})
	require.NoError(t, err)
}

func TestReadPoolWorkerSurvivesCancelRaceUnderLoad(t *testing.T) {
	const size = 2
	pool := newTestPool(t, size)

	// Race cancellations against acquire while other goroutines hold and
	// release workers, so cancelled waiters keep hitting the window where
	// release has dequeued them but not yet delivered the worker.
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				ctx, cancel := context.WithCancel(context.Background())
				go cancel()
				worker, err := pool.acquire(ctx)
				if err == nil {
					pool.release(worker)
				}
			}
		}()
	}
	wg.Wait()

	// Every worker must still be accounted for: all of them acquirable at
	// the same time afterwards.
	ctx, cancelAll := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelAll()
	workers := make([]*readWorker, 0, size)
	for i := 0; i < size; i++ {
		worker, err := pool.acquire(ctx)
		require.NoError(t, err)
		workers = append(workers, worker)
	}
	for _, worker := range workers {
		pool.release(worker)
	}
}

func TestReadPoolCloseFailsWaitersAndNewReads(t *testing.T) {
	pool := newTestPool(t, 1)
	ctx := context.Background()

	holding := make(chan struct{})
	releaseHold := make(chan struct{})
	go func() {
		_ = pool.Read(ctx, func(conn *sql.Conn) error {
			close(holding)
			<-releaseHold
			return nil
		})
	}()
	<-holding

	waiterErr := make(chan error, 1)
	go func() {
		waiterErr <- pool.Read(ctx, func(conn *sql.Conn) error { return nil })
	}()
	time.Sleep(50 * time.Millisecond)

	go pool.CloseAll()
	time.Sleep(50 * time.Millisecond)
	close(releaseHold)

	select {
	case err := <-waiterErr:
		require.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter did not fail after pool close")
	}

	require.ErrorIs(t, pool.Read(ctx, func(conn *sql.Conn) error { return nil }), ErrPoolClosed)
}

func TestReadValue(t *testing.T) {
	pool := newTestPool(t, 2)
	ctx := context.Background()

	got, err := ReadValue(ctx, pool, func(conn *sql.Conn) (int, error) {
		var one int
		err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
		return one, err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}
