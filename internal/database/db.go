// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database provides the SQLite layer behind the records manager.
//
// WRITE CONCURRENCY MODEL:
//
// Single writer connection with a read-only reader pool:
//   - writerConn: Single connection (SetMaxOpenConns=1) for all write
//     operations, schema setup, maintenance, and reads that must observe
//     this process's uncommitted state.
//   - readPool: Fixed-size pool of read-only connections with a FIFO waiter
//     queue, used for bulk projection loads (see readpool.go).
//   - ExecContext / QueryContext / QueryRowContext: Route writes to
//     writerConn; routed reads also go to writerConn so stores get
//     read-your-writes consistency immediately after a mutation.
//   - Read: Scoped callback against a pooled read-only worker.
//   - BeginTx (write): Uses writerConn, fully serialized by writerMu.
//   - WAL mode allows pool readers to run concurrently with writes.
//
// The single writer connection + writerMu eliminates both SQLITE_BUSY errors
// and "cannot start a transaction within a transaction" errors by fully
// serializing write transactions. Busy errors that still surface (a second
// process holding the file) get a bounded retry before propagating.
//
// FILE LIFECYCLE:
//
// missing -> (optional cloud-download wait) -> present -> connected ->
// [Reload <-> connected] -> disconnected (Checkpoint/Close). External
// deletion while connected is reported by the file monitor; the embedding
// app chooses reload or terminate, never the core.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"

	"github.com/sekolahdesk/sekolahdesk/internal/dbinterface"
	"github.com/sekolahdesk/sekolahdesk/internal/events"
)

const (
	defaultBusyTimeout       = 5 * time.Second
	defaultBusyTimeoutMillis = int(defaultBusyTimeout / time.Millisecond)
	connectionSetupTimeout   = 5 * time.Second

	// busyRetryAttempts bounds retries on SQLITE_BUSY surfaced past the
	// busy_timeout, e.g. another process checkpointing the same file.
	busyRetryAttempts = 3
)

// Options configures New.
type Options struct {
	// PoolSize is the number of read-only connections in the read pool.
	// Zero or negative selects DefaultPoolSize.
	PoolSize int
	// SkipSeed disables first-launch sample data.
	SkipSeed bool
	// Cleanup selects which orphan-row cleanup passes run.
	Cleanup CleanupFlags
	// MaintenanceInterval is the period of the orphan cleanup loop.
	// Zero selects the default (daily).
	MaintenanceInterval time.Duration
	// Bus receives DatabaseSwapped and FileMissing events. May be nil.
	Bus *events.Bus
}

// DB owns the writer connection and the read pool for one database file.
type DB struct {
	path string
	opts Options

	connMu     sync.RWMutex // guards writerConn/readPool pointers across Reload
	writerConn *sql.DB
	readPool   *ReadPool

	writerStmts *ttlcache.Cache[string, *sql.Stmt]
	stmtMu      sync.RWMutex

	// writerMu serializes write transactions for their entire lifetime.
	// Even with SetMaxOpenConns(1), BeginTx does not queue properly and
	// fails immediately with "cannot start a transaction within a
	// transaction" instead of waiting.
	writerMu sync.Mutex

	maintCancel context.CancelFunc

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var driverInit sync.Once

type pragmaExecFn func(ctx context.Context, stmt string) error

func registerConnectionHook() {
	driverInit.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
			defer cancel()

			readOnly := isReadOnlyDSN(dsn)

			return applyConnectionPragmas(ctx, func(ctx context.Context, stmt string) error {
				_, err := conn.ExecContext(ctx, stmt, nil)
				if err != nil {
					return fmt.Errorf("connection hook exec %q: %w", stmt, err)
				}
				return nil
			}, readOnly)
		})
	})
}

func isReadOnlyDSN(dsn string) bool {
	queryStart := strings.IndexByte(dsn, '?')
	if queryStart == -1 {
		return false
	}
	query := dsn[queryStart+1:]
	for _, segment := range strings.FieldsFunc(query, func(r rune) bool {
		return r == '&' || r == ';'
	}) {
		if segment == "mode=ro" {
			return true
		}
	}
	return false
}

type pragmaDirective struct {
	stmt          string
	allowReadOnly bool
}

var connectionPragmas = []pragmaDirective{
	{stmt: "PRAGMA journal_mode = WAL", allowReadOnly: false},
	{stmt: "PRAGMA synchronous = NORMAL", allowReadOnly: false},
	{stmt: "PRAGMA mmap_size = 268435456", allowReadOnly: true},
	{stmt: "PRAGMA cache_size = -64000", allowReadOnly: true},
	{stmt: "PRAGMA foreign_keys = ON", allowReadOnly: true},
	{stmt: fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeoutMillis), allowReadOnly: true},
	{stmt: "PRAGMA analysis_limit = 400", allowReadOnly: true},
}

func applyConnectionPragmas(ctx context.Context, exec pragmaExecFn, readOnly bool) error {
	for _, pragma := range connectionPragmas {
		if readOnly && !pragma.allowReadOnly {
			continue
		}
		if err := exec(ctx, pragma.stmt); err != nil {
			return fmt.Errorf("apply connection pragma %q: %w", pragma.stmt, err)
		}
	}
	return nil
}

// New opens the database at databasePath, runs schema setup and seeding, and
// brings up the read pool. The parent directory is created if absent.
func New(databasePath string, opts Options) (*DB, error) {
	log.Info().Msgf("Initializing database at: %s", databasePath)

	dir := filepath.Dir(databasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	registerConnectionHook()

	db := &DB{
		path: databasePath,
		opts: opts,
	}

	if err := db.connect(); err != nil {
		return nil, err
	}

	maintCtx, maintCancel := context.WithCancel(context.Background())
	db.maintCancel = maintCancel
	go db.maintenanceLoop(maintCtx)

	if _, err := os.Stat(databasePath); err != nil {
		db.closeConns()
		return nil, fmt.Errorf("database file was not created at %s: %w", databasePath, err)
	}
	log.Info().Msgf("Database initialized successfully at: %s", databasePath)

	return db, nil
}

// connect opens the writer connection and read pool against db.path and runs
// schema setup. Callers must hold no connection yet (fresh open or after
// closeConns).
func (db *DB) connect() error {
	writerConn, err := sql.Open("sqlite", db.path)
	if err != nil {
		return fmt.Errorf("failed to open writer connection at %s: %w", db.path, err)
	}

	// One connection serializes all writes at the database/sql level.
	writerConn.SetMaxOpenConns(1)
	writerConn.SetMaxIdleConns(1)
	writerConn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()
	if err := applyConnectionPragmas(ctx, func(ctx context.Context, stmt string) error {
		_, execErr := writerConn.ExecContext(ctx, stmt)
		return execErr
	}, false); err != nil {
		writerConn.Close()
		return err
	}

	if _, err := writerConn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		writerConn.Close()
		return fmt.Errorf("apply wal checkpoint: %w", err)
	}

	if err := setupSchema(ctx, writerConn); err != nil {
		writerConn.Close()
		return fmt.Errorf("schema setup: %w", err)
	}

	if !db.opts.SkipSeed {
		if err := seedDefaults(ctx, writerConn); err != nil {
			writerConn.Close()
			return fmt.Errorf("seed defaults: %w", err)
		}
	}

	readPool, err := NewReadPool(db.path, db.opts.PoolSize)
	if err != nil {
		writerConn.Close()
		return fmt.Errorf("open read pool: %w", err)
	}

	writerStmtOpts := ttlcache.Options[string, *sql.Stmt]{}.SetDefaultTTL(5 * time.Minute).
		SetDeallocationFunc(func(k string, s *sql.Stmt, _ ttlcache.DeallocationReason) {
			if s != nil {
				_ = s.Close()
			}
		})

	db.connMu.Lock()
	db.writerConn = writerConn
	db.readPool = readPool
	db.connMu.Unlock()

	db.stmtMu.Lock()
	db.writerStmts = ttlcache.New(writerStmtOpts)
	db.stmtMu.Unlock()

	return nil
}

// Path returns the backing file path.
func (db *DB) Path() string {
	db.connMu.RLock()
	defer db.connMu.RUnlock()
	return db.path
}

// Read runs fn against a pooled read-only worker, blocking FIFO-fairly when
// the pool is exhausted. Reads through the pool are not ordered relative to
// concurrent writes; callers needing read-your-writes must use the routed
// Querier methods instead.
func (db *DB) Read(ctx context.Context, fn func(conn *sql.Conn) error) error {
	db.connMu.RLock()
	pool := db.readPool
	db.connMu.RUnlock()

	if pool == nil {
		return ErrPoolClosed
	}
	return pool.Read(ctx, fn)
}

// writer returns the current writer connection.
func (db *DB) writer() *sql.DB {
	db.connMu.RLock()
	defer db.connMu.RUnlock()
	return db.writerConn
}

// writerOrErr returns the current writer connection, or ErrPoolClosed while
// the connections are torn down (Checkpoint, the middle of a Reload, Close).
func (db *DB) writerOrErr() (*sql.DB, error) {
	conn := db.writer()
	if conn == nil || db.closing.Load() {
		return nil, ErrPoolClosed
	}
	return conn, nil
}

// brokenRows yields an errored *sql.Row for the row-returning path, which has
// no error return of its own. The handle is opened closed so every query on
// it fails without touching the driver.
var brokenRows = sync.OnceValue(func() *sql.DB {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		panic(err)
	}
	_ = conn.Close()
	return conn
})

// getStmt returns a prepared statement for the given query, preparing and
// caching it if necessary. Statements are cached with TTL and closed on
// eviction. When tx is non-nil only cached statements are returned, to avoid
// preparing on a connection that is mid-transaction.
func (db *DB) getStmt(ctx context.Context, query string, tx *Tx) (*sql.Stmt, error) {
	if db.closing.Load() {
		return nil, sql.ErrConnDone
	}

	db.stmtMu.RLock()
	defer db.stmtMu.RUnlock()

	stmts := db.writerStmts
	conn := db.writer()
	if stmts == nil || conn == nil {
		return nil, sql.ErrConnDone
	}

	if s, found := stmts.Get(query); found && s != nil {
		if tx != nil {
			return tx.tx.StmtContext(ctx, s), nil
		}
		return s, nil
	} else if tx != nil {
		return nil, errStmtNotCached
	}

	// Slow path. Concurrent goroutines may prepare the same query; the
	// duplicates are closed by the cache's deallocation func on eviction.
	s, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	stmts.Set(query, s, ttlcache.DefaultTTL)
	return s, nil
}

var errStmtNotCached = errors.New("statement not cached")

func (db *DB) deleteStmt(query string) {
	db.stmtMu.RLock()
	defer db.stmtMu.RUnlock()

	if db.writerStmts == nil {
		return
	}
	db.writerStmts.Delete(query)
}

// isWriteQuery determines if a query is a write operation from its leading
// keyword, without allocating beyond one ToUpper.
func isWriteQuery(query string) bool {
	q := strings.TrimLeftFunc(query, unicode.IsSpace)
	if q == "" {
		return false
	}

	upper := strings.ToUpper(q)
	return strings.HasPrefix(upper, "INSERT") ||
		strings.HasPrefix(upper, "UPDATE") ||
		strings.HasPrefix(upper, "UPSERT") ||
		strings.HasPrefix(upper, "REPLACE") ||
		strings.HasPrefix(upper, "DELETE") ||
		strings.HasPrefix(upper, "COMMIT") ||
		strings.HasPrefix(upper, "ROLLBACK") ||
		strings.HasPrefix(upper, "BEGIN") ||
		strings.HasPrefix(upper, "CREATE") ||
		strings.HasPrefix(upper, "ALTER") ||
		strings.HasPrefix(upper, "DROP") ||
		strings.HasPrefix(upper, "VACUUM")
}

const sqliteNestedTxErrSubstring = "cannot start a transaction within a transaction"

func isSQLiteNestedTxErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), sqliteNestedTxErrSubstring)
}

// isBusyErr reports whether err is SQLITE_BUSY/SQLITE_LOCKED surfaced past
// the connection's busy_timeout.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

const stmtClosedErrMsg = "statement is closed"

// ExecContext executes query on the writer connection, serialized against
// write transactions, with a bounded retry on busy errors.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if isWriteQuery(query) {
		db.writerMu.Lock()
		defer db.writerMu.Unlock()
	}

	var result sql.Result
	err := retry.Do(
		func() error {
			var execErr error
			result, execErr = db.execOnce(ctx, query, args)
			return execErr
		},
		retry.Attempts(busyRetryAttempts),
		retry.RetryIf(isBusyErr),
		retry.LastErrorOnly(true),
		retry.Delay(50*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (db *DB) execOnce(ctx context.Context, query string, args []any) (sql.Result, error) {
	stmt, err := db.getStmt(ctx, query, nil)
	if err != nil {
		conn, connErr := db.writerOrErr()
		if connErr != nil {
			return nil, connErr
		}
		return conn.ExecContext(ctx, query, args...)
	}

	result, execErr := stmt.ExecContext(ctx, args...)
	if execErr == nil || !strings.Contains(execErr.Error(), stmtClosedErrMsg) {
		return result, execErr
	}

	// Statement was evicted and closed between prepare and exec; drop from
	// cache and retry once.
	db.deleteStmt(query)
	stmt, err = db.getStmt(ctx, query, nil)
	if err != nil {
		conn, connErr := db.writerOrErr()
		if connErr != nil {
			return nil, connErr
		}
		return conn.ExecContext(ctx, query, args...)
	}
	return stmt.ExecContext(ctx, args...)
}

// QueryContext executes query on the writer connection. Reads issued here
// observe this process's writes immediately; use Read for bulk loads that
// can tolerate pool-level ordering.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if isWriteQuery(query) {
		db.writerMu.Lock()
		defer db.writerMu.Unlock()
	}

	stmt, err := db.getStmt(ctx, query, nil)
	if err != nil {
		conn, connErr := db.writerOrErr()
		if connErr != nil {
			return nil, connErr
		}
		return conn.QueryContext(ctx, query, args...)
	}

	rows, queryErr := stmt.QueryContext(ctx, args...)
	if queryErr == nil || !strings.Contains(queryErr.Error(), stmtClosedErrMsg) {
		return rows, queryErr
	}

	db.deleteStmt(query)
	stmt, err = db.getStmt(ctx, query, nil)
	if err != nil {
		conn, connErr := db.writerOrErr()
		if connErr != nil {
			return nil, connErr
		}
		return conn.QueryContext(ctx, query, args...)
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowContext executes query on the writer connection.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if isWriteQuery(query) {
		db.writerMu.Lock()
		defer db.writerMu.Unlock()
	}
	return db.queryRowUnlocked(ctx, query, args...)
}

func (db *DB) queryRowUnlocked(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := db.getStmt(ctx, query, nil)
	if err != nil {
		conn, connErr := db.writerOrErr()
		if connErr != nil {
			return brokenRows().QueryRowContext(ctx, query, args...)
		}
		return conn.QueryRowContext(ctx, query, args...)
	}

	row := stmt.QueryRowContext(ctx, args...)
	if row.Err() == nil || !strings.Contains(row.Err().Error(), stmtClosedErrMsg) {
		return row
	}

	db.deleteStmt(query)
	stmt, err = db.getStmt(ctx, query, nil)
	if err != nil {
		conn, connErr := db.writerOrErr()
		if connErr != nil {
			return brokenRows().QueryRowContext(ctx, query, args...)
		}
		return conn.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// BeginTx starts a transaction on the writer connection.
//
// writerMu is locked for the ENTIRE transaction lifetime and released by
// Commit or Rollback. SQLite with SetMaxOpenConns(1) does not queue BeginTx
// calls; without the mutex a second caller fails immediately with "cannot
// start a transaction within a transaction". Write transactions are
// therefore fully serialized, which is acceptable since SQLite can only run
// one write transaction at a time anyway. Read-only snapshot reads belong on
// the read pool, not here.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (dbinterface.TxQuerier, error) {
	db.writerMu.Lock()

	conn, connErr := db.writerOrErr()
	if connErr != nil {
		db.writerMu.Unlock()
		return nil, connErr
	}

	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		db.writerMu.Unlock()
		if isSQLiteNestedTxErr(err) {
			// A previous transaction failed to roll back and wedged the
			// connection. Log with stack to help find the caller bug.
			recordWedgedTransaction()
			log.Error().
				Err(err).
				Str("stack", string(debug.Stack())).
				Msg("SQLite writer connection is wedged in a transaction - a previous transaction failed to rollback properly")
			return nil, fmt.Errorf("database connection wedged: %w", err)
		}
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &Tx{
		tx:       tx,
		db:       db,
		ctx:      ctx,
		unlockFn: db.writerMu.Unlock,
	}, nil
}

// closeConns tears down the writer connection, statement cache and read pool
// without marking the DB permanently closed. Used by Reload and Checkpoint.
func (db *DB) closeConns() {
	db.stmtMu.Lock()
	if db.writerStmts != nil {
		db.writerStmts.Close()
		db.writerStmts = nil
	}
	db.stmtMu.Unlock()

	db.connMu.Lock()
	writerConn := db.writerConn
	readPool := db.readPool
	db.writerConn = nil
	db.readPool = nil
	db.connMu.Unlock()

	if writerConn != nil {
		if err := writerConn.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close writer connection")
		}
	}
	if readPool != nil {
		readPool.CloseAll()
	}
}

// Reload points the DB at a new backing file: close, repoint, reopen,
// re-run schema setup. Publishes DatabaseSwapped so every cache clears
// before the new file is trusted. Used when external file-watching detects
// the file was replaced, e.g. by cloud sync.
func (db *DB) Reload(newPath string) error {
	if db.closing.Load() {
		return sql.ErrConnDone
	}

	db.closeConns()

	db.connMu.Lock()
	db.path = newPath
	db.connMu.Unlock()

	if err := db.connect(); err != nil {
		return fmt.Errorf("reload database at %s: %w", newPath, err)
	}

	if db.opts.Bus != nil {
		db.opts.Bus.Publish(events.Event{Kind: events.DatabaseSwapped})
	}
	log.Info().Msgf("Database reloaded from: %s", newPath)
	return nil
}

// Close shuts the DB down permanently: stops maintenance, runs PRAGMA
// optimize, closes the statement cache and both connection sets.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.closing.Store(true)

		if db.maintCancel != nil {
			db.maintCancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
		defer cancel()
		if conn := db.writer(); conn != nil {
			if _, err := conn.ExecContext(ctx, "PRAGMA optimize"); err != nil {
				log.Warn().Err(err).Msg("failed to run PRAGMA optimize during close")
			}
		}

		db.closeConns()
	})

	return db.closeErr
}
