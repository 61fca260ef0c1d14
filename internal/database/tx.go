// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog/log"
)

// Tx wraps sql.Tx to provide prepared statement caching for transaction
// queries and to release writerMu when the transaction completes.
type Tx struct {
	tx         *sql.Tx
	db         *DB
	ctx        context.Context // context from BeginTx
	unlockFn   func()          // releases writerMu when the transaction completes
	unlockOnce sync.Once

	// Queries prepared during this transaction, promoted to the DB cache
	// after a successful commit.
	txStmts map[string]struct{}
	txMu    sync.Mutex
}

func (t *Tx) markQueryForCaching(query string) {
	t.txMu.Lock()
	if t.txStmts == nil {
		t.txStmts = make(map[string]struct{})
	}
	t.txStmts[query] = struct{}{}
	t.txMu.Unlock()
}

// ExecContext executes a query within the transaction, using the cached
// writer statement when available.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := t.db.getStmt(ctx, query, t)
	if err != nil {
		t.markQueryForCaching(query)
		return t.tx.ExecContext(ctx, query, args...)
	}

	result, execErr := stmt.ExecContext(ctx, args...)
	if execErr == nil || !strings.Contains(execErr.Error(), stmtClosedErrMsg) {
		return result, execErr
	}

	t.db.deleteStmt(query)
	t.markQueryForCaching(query)
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryRowContext executes a query within the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := t.db.getStmt(ctx, query, t)
	if err != nil {
		t.markQueryForCaching(query)
		return t.tx.QueryRowContext(ctx, query, args...)
	}

	row := stmt.QueryRowContext(ctx, args...)
	if row.Err() == nil || !strings.Contains(row.Err().Error(), stmtClosedErrMsg) {
		return row
	}

	// Statement was evicted and closed between prepare and exec.
	t.db.deleteStmt(query)
	t.markQueryForCaching(query)
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Commit commits the transaction and releases the writer mutex. On failure
// the transaction remains active and the caller must call Rollback to
// release the mutex.
func (t *Tx) Commit() error {
	err := t.tx.Commit()
	if err == nil {
		t.promoteStatementsToCache()
		if t.unlockFn != nil {
			t.unlockOnce.Do(t.unlockFn)
		}
	}
	return err
}

// Rollback rolls back the transaction and always releases the writer mutex:
// the transaction is done whether the rollback succeeded or was already
// closed by a prior failed commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if t.unlockFn != nil {
		t.unlockOnce.Do(t.unlockFn)
	}
	return err
}

// promoteStatementsToCache prepares and caches statements first seen during
// this transaction. Called after a successful commit; caching is an
// optimization, failures only get logged.
func (t *Tx) promoteStatementsToCache() {
	t.txMu.Lock()
	queries := t.txStmts
	t.txStmts = nil
	t.txMu.Unlock()

	if len(queries) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for query := range queries {
		if t.db.closing.Load() {
			return
		}

		t.db.stmtMu.RLock()

		var stmts *ttlcache.Cache[string, *sql.Stmt] = t.db.writerStmts
		conn := t.db.writer()
		if stmts == nil || conn == nil {
			t.db.stmtMu.RUnlock()
			return
		}

		if _, found := stmts.Get(query); found {
			t.db.stmtMu.RUnlock()
			continue
		}

		stmt, err := conn.PrepareContext(ctx, query)
		if err != nil {
			t.db.stmtMu.RUnlock()
			log.Debug().Err(err).Str("query", query).Msg("failed to promote transaction statement to cache")
			continue
		}

		stmts.Set(query, stmt, ttlcache.DefaultTTL)
		t.db.stmtMu.RUnlock()
	}
}
