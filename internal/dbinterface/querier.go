// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface holds the query interfaces shared between the
// database layer and the stores, so the stores never import the database
// package directly.
package dbinterface

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// TxQuerier is one open write transaction. Implemented by *database.Tx;
// Commit or Rollback releases the writer lock, so exactly one of them must
// always run.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Commit() error
	Rollback() error
}

// Querier is what a store needs from the database: routed single-statement
// queries with read-your-writes ordering, and write transactions.
// Implemented by *database.DB.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (TxQuerier, error)
}

// DeferForeignKeyChecks postpones foreign key enforcement to commit time
// for tx. The dynamic table rebuild and cascading hard deletes pass through
// intermediate states that ON DELETE RESTRICT would reject even though the
// committed result is consistent.
func DeferForeignKeyChecks(tx TxQuerier) error {
	_, err := tx.ExecContext(context.Background(), "PRAGMA defer_foreign_keys = ON;")
	return err
}

// BuildQueryWithPlaceholders expands queryTemplate's single %s into numRows
// groups of placeholdersPerRow question marks, "(?, ?), (?, ?)" style. Batch
// statements (multi-row delete, undo-restore) build their VALUES and IN
// lists with it.
func BuildQueryWithPlaceholders(queryTemplate string, placeholdersPerRow int, numRows int) string {
	var sb strings.Builder
	totalLen := numRows*(2*placeholdersPerRow+2) + (numRows-1)*2
	sb.Grow(totalLen)
	for i := 0; i < numRows; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := 0; j < placeholdersPerRow; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('?')
		}
		sb.WriteByte(')')
	}
	return fmt.Sprintf(queryTemplate, sb.String())
}
