// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPoolSize is the read pool size when Options.PoolSize is unset.
const DefaultPoolSize = 4

// ErrPoolClosed is returned by Read after CloseAll.
var ErrPoolClosed = errors.New("read pool is closed")

// readWorker is one read-only connection. A worker executes at most one
// query at a time: it is only ever usable by the single caller that checked
// it out, which is the hard per-handle requirement SQLite imposes.
type readWorker struct {
	id   int
	conn *sql.Conn
}

// ReadPool is a fixed-size pool of read-only connections with a FIFO waiter
// queue. N reads run fully in parallel, one per connection; callers beyond N
// suspend and are served strictly in arrival order.
//
// All pool state (idle list, waiters) is guarded by one mutex. On release
// the worker is handed directly to the oldest waiter when one exists,
// skipping the idle list; this keeps contended acquisition fair and avoids
// idle-list churn.
type ReadPool struct {
	handle *sql.DB

	mu      sync.Mutex
	idle    []*readWorker
	waiters []chan *readWorker
	closed  bool
	size    int
}

// NewReadPool opens size read-only connections against databasePath. A
// throwaway write-mode open has already forced WAL mode by the time this is
// called (see DB.connect), so the read-only connections never need to.
func NewReadPool(databasePath string, size int) (*ReadPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	dsn := fmt.Sprintf("file:%s?mode=ro", databasePath)
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open read-only handle at %s: %w", databasePath, err)
	}
	handle.SetMaxOpenConns(size)
	handle.SetMaxIdleConns(size)
	handle.SetConnMaxLifetime(0)

	p := &ReadPool{
		handle: handle,
		size:   size,
	}

	// Materialize the connections up front so open failures surface here,
	// not on a first read deep inside a projection load.
	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()
	for i := 0; i < size; i++ {
		conn, err := handle.Conn(ctx)
		if err != nil {
			p.CloseAll()
			return nil, fmt.Errorf("open read connection %d/%d: %w", i+1, size, err)
		}
		p.idle = append(p.idle, &readWorker{id: i, conn: conn})
	}

	log.Debug().Int("size", size).Msg("read pool opened")
	return p, nil
}

// Size returns the configured pool size.
func (p *ReadPool) Size() int {
	return p.size
}

// Read acquires a worker, runs fn against its connection, and always
// releases the worker back to the pool, error or not. Errors from fn do not
// leak connections.
func (p *ReadPool) Read(ctx context.Context, fn func(conn *sql.Conn) error) error {
	worker, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(worker)
	return fn(worker.conn)
}

// ReadValue is Read for callers that produce a value.
func ReadValue[T any](ctx context.Context, p *ReadPool, fn func(conn *sql.Conn) (T, error)) (T, error) {
	var zero T
	worker, err := p.acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer p.release(worker)
	return fn(worker.conn)
}

// acquire pops an idle worker or enqueues the caller as a FIFO waiter.
func (p *ReadPool) acquire(ctx context.Context) (*readWorker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		worker := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return worker, nil
	}

	// Pool exhausted: suspend. Buffered so a releasing goroutine never
	// blocks handing a worker to a waiter that is busy waking up.
	ch := make(chan *readWorker, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case worker, ok := <-ch:
		if !ok || worker == nil {
			return nil, ErrPoolClosed
		}
		return worker, nil
	case <-ctx.Done():
		p.mu.Lock()
		for i, waiter := range p.waiters {
			if waiter == ch {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				p.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		p.mu.Unlock()
		// The channel is no longer in p.waiters: either release dequeued it
		// and will send a worker (the send happens after release unlocks, so
		// it may not have landed yet), or CloseAll dequeued and closed it.
		// Block until one of those resolves; a non-blocking drain here would
		// strand a worker in an abandoned channel.
		if worker, ok := <-ch; ok && worker != nil {
			p.release(worker)
		}
		return nil, ctx.Err()
	}
}

// release returns a worker to the pool: directly to the oldest waiter when
// one exists, to the idle list otherwise. After CloseAll the container has
// been emptied, so released workers are discarded instead of reused.
func (p *ReadPool) release(worker *readWorker) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		p.discard(worker)
		return
	}

	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		ch <- worker
		return
	}

	p.idle = append(p.idle, worker)
	p.mu.Unlock()
}

func (p *ReadPool) discard(worker *readWorker) {
	if err := worker.conn.Close(); err != nil {
		log.Debug().Err(err).Int("worker", worker.id).Msg("discarding read worker after pool close")
	}
}

// CloseAll drops all idle connections and fails all waiters. In-flight reads
// finish; their workers are discarded on release. The caller must ensure no
// reads are in flight or accept that those workers are discarded.
func (p *ReadPool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	idle := p.idle
	waiters := p.waiters
	p.idle = nil
	p.waiters = nil
	p.mu.Unlock()

	for _, waiter := range waiters {
		close(waiter)
	}
	for _, worker := range idle {
		p.discard(worker)
	}

	// Give in-flight workers a moment to come home before the handle drops.
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = p.handle.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-closeCtx.Done():
		log.Warn().Msg("read pool handle close timed out; in-flight reads still draining")
	}

	log.Debug().Msg("read pool closed")
}
