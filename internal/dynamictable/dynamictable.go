// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dynamictable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sekolahdesk/sekolahdesk/internal/cache"
	"github.com/sekolahdesk/sekolahdesk/internal/dbinterface"
)

const tableName = "main_table"

var (
	// ErrColumnExists is returned when adding a column whose name is taken.
	ErrColumnExists = errors.New("column already exists")
	// ErrColumnNotFound is returned when renaming or dropping an unknown column.
	ErrColumnNotFound = errors.New("column not found")
	// ErrColumnReserved is returned for operations against the id column.
	ErrColumnReserved = errors.New("column is reserved")
	// ErrBlobColumn is returned when adding a blob column dynamically.
	ErrBlobColumn = errors.New("blob columns cannot be added at runtime")
	// ErrRowNotFound is returned for operations against a missing row id.
	ErrRowNotFound = errors.New("inventory row not found")
)

// Column describes one live column of the dynamic table.
type Column struct {
	Name       string
	Type       Type
	NotNull    bool
	PrimaryKey bool
}

// Row is one inventory row. Blob columns are never present in Values; they
// are fetched individually through Photo.
type Row struct {
	ID     int64
	Values map[string]Value
}

// Visibility filters rows and columns that are staged for deletion but not
// yet committed. Implemented by the projection staging log.
type Visibility interface {
	RowHidden(id int64) bool
	ColumnHidden(name string) bool
}

// Table is the dynamic-schema inventory table. The in-memory column
// directory is the source of bind dispatch and is only mutated after the
// corresponding DDL succeeded; a failed rename or drop leaves it untouched.
type Table struct {
	db     dbinterface.Querier
	photos *cache.ImageCache

	mu      sync.RWMutex
	columns []Column
}

// New returns a Table over db, fronting photo loads with images (may be nil).
func New(db dbinterface.Querier, images *cache.ImageCache) *Table {
	return &Table{db: db, photos: images}
}

// Load introspects the live table and rebuilds the in-memory column
// directory. Call at startup and after any database swap.
func (t *Table) Load(ctx context.Context) error {
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(tableName)))
	if err != nil {
		return fmt.Errorf("introspect %s: %w", tableName, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var (
			cid       int
			name      string
			declType  sql.NullString
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan table_info: %w", err)
		}
		columns = append(columns, Column{
			Name:       name,
			Type:       affinityOf(declType.String),
			NotNull:    notNull != 0,
			PrimaryKey: pk != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(columns) == 0 {
		return fmt.Errorf("table %s has no columns", tableName)
	}

	t.mu.Lock()
	t.columns = columns
	t.mu.Unlock()

	log.Debug().Int("columns", len(columns)).Msg("dynamic table directory loaded")
	return nil
}

// affinityOf maps a declared SQL type to the three-way affinity the
// directory tracks. Unknown declarations fall back to text, matching
// SQLite's own affinity rules closely enough for binds.
func affinityOf(decl string) Type {
	upper := strings.ToUpper(decl)
	switch {
	case strings.Contains(upper, "INT"):
		return TypeInteger
	case strings.Contains(upper, "BLOB"):
		return TypeBlob
	default:
		return TypeText
	}
}

// Columns returns a copy of the current directory.
func (t *Table) Columns() []Column {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// ColumnType looks up a column's declared type.
func (t *Table) ColumnType(name string) (Type, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, col := range t.columns {
		if col.Name == name {
			return col.Type, true
		}
	}
	return TypeText, false
}

func (t *Table) hasColumn(name string) bool {
	_, ok := t.ColumnType(name)
	return ok
}

// AddColumn alters the live table and then appends to the directory. Only
// text and integer columns can be added at runtime; blobs would force a
// rewrite cost on every bulk load.
func (t *Table) AddColumn(ctx context.Context, name string, typ Type) error {
	if name == "" || strings.EqualFold(name, "id") {
		return ErrColumnReserved
	}
	if typ == TypeBlob {
		return ErrBlobColumn
	}
	if t.hasColumn(name) {
		return fmt.Errorf("%w: %s", ErrColumnExists, name)
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(tableName), quoteIdent(name), typ)
	if _, err := t.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %q: %w", name, err)
	}

	t.mu.Lock()
	t.columns = append(t.columns, Column{Name: name, Type: typ})
	t.mu.Unlock()

	log.Info().Str("column", name).Str("type", typ.String()).Msg("inventory column added")
	return nil
}

// RenameColumn renames via a full table rebuild: create a new table with the
// desired schema, copy all data, drop the old table, rename into place. The
// directory mirrors the change only after the rebuild committed, so a failed
// statement leaves no partial rename visible in memory.
func (t *Table) RenameColumn(ctx context.Context, oldName, newName string) error {
	if strings.EqualFold(oldName, "id") || strings.EqualFold(newName, "id") || newName == "" {
		return ErrColumnReserved
	}
	if !t.hasColumn(oldName) {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, oldName)
	}
	if oldName == newName {
		return nil
	}
	if t.hasColumn(newName) {
		return fmt.Errorf("%w: %s", ErrColumnExists, newName)
	}

	rename := func(col Column) (Column, bool) {
		if col.Name == oldName {
			col.Name = newName
		}
		return col, true
	}
	if err := t.rebuild(ctx, rename); err != nil {
		return fmt.Errorf("rename column %q to %q: %w", oldName, newName, err)
	}

	log.Info().Str("from", oldName).Str("to", newName).Msg("inventory column renamed")
	return nil
}

// DropColumn removes a column via the same rebuild strategy as RenameColumn.
func (t *Table) DropColumn(ctx context.Context, name string) error {
	if strings.EqualFold(name, "id") {
		return ErrColumnReserved
	}
	if !t.hasColumn(name) {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}

	drop := func(col Column) (Column, bool) {
		if col.Name == name {
			return col, false
		}
		return col, true
	}
	if err := t.rebuild(ctx, drop); err != nil {
		return fmt.Errorf("drop column %q: %w", name, err)
	}

	log.Info().Str("column", name).Msg("inventory column dropped")
	return nil
}

// rebuild applies transform to every column, creates a replacement table
// with the resulting schema, copies the surviving data, and swaps it in.
// Runs in one transaction with foreign key checks deferred. On success the
// directory is replaced with the transformed column set.
func (t *Table) rebuild(ctx context.Context, transform func(Column) (Column, bool)) error {
	t.mu.RLock()
	oldColumns := make([]Column, len(t.columns))
	copy(oldColumns, t.columns)
	t.mu.RUnlock()

	var newColumns []Column
	var defs, selectCols, insertCols []string
	for _, col := range oldColumns {
		newCol, keep := transform(col)
		if !keep {
			continue
		}
		newColumns = append(newColumns, newCol)

		def := quoteIdent(newCol.Name) + " " + newCol.Type.String()
		if newCol.PrimaryKey {
			def = quoteIdent(newCol.Name) + " INTEGER PRIMARY KEY AUTOINCREMENT"
		} else if newCol.NotNull {
			def += " NOT NULL"
		}
		defs = append(defs, def)
		selectCols = append(selectCols, quoteIdent(col.Name))
		insertCols = append(insertCols, quoteIdent(newCol.Name))
	}

	tmpName := tableName + "_rebuild"
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild transaction: %w", err)
	}
	defer tx.Rollback()

	if err := dbinterface.DeferForeignKeyChecks(tx); err != nil {
		return fmt.Errorf("defer foreign keys: %w", err)
	}

	statements := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(tmpName)),
		fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(tmpName), strings.Join(defs, ", ")),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			quoteIdent(tmpName), strings.Join(insertCols, ", "),
			strings.Join(selectCols, ", "), quoteIdent(tableName)),
		fmt.Sprintf("DROP TABLE %s", quoteIdent(tableName)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(tmpName), quoteIdent(tableName)),
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild step %q: %w", stmt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}

	t.mu.Lock()
	t.columns = newColumns
	t.mu.Unlock()
	return nil
}

// InsertRow inserts the given values and returns the new row id. Unknown
// column names are rejected; binds dispatch on the directory's declared
// types, and a value whose type disagrees with its column is an error.
func (t *Table) InsertRow(ctx context.Context, values map[string]Value) (int64, error) {
	cols, args, err := t.bindArgs(values)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, errors.New("insert requires at least one column value")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		quoteIdent(tableName), strings.Join(cols, ", "), placeholders)

	var id int64
	if err := t.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert inventory row: %w", err)
	}
	return id, nil
}

// UpdateRow updates the given columns of one row.
func (t *Table) UpdateRow(ctx context.Context, id int64, values map[string]Value) error {
	cols, args, err := t.bindArgs(values)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = ?"
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quoteIdent(tableName), strings.Join(sets, ", "))

	result, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update inventory row %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrRowNotFound, id)
	}

	// Hold no stale photo for a row whose blob may just have changed.
	if t.photos != nil {
		for _, col := range cols {
			if typ, ok := t.ColumnType(unquoteIdent(col)); ok && typ == TypeBlob {
				t.photos.Clear(cache.KindInventory, id)
			}
		}
	}
	return nil
}

// DeleteRow hard-deletes one row and drops its cached photo.
func (t *Table) DeleteRow(ctx context.Context, id int64) error {
	result, err := t.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", quoteIdent(tableName)), id)
	if err != nil {
		return fmt.Errorf("delete inventory row %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrRowNotFound, id)
	}
	if t.photos != nil {
		t.photos.Clear(cache.KindInventory, id)
	}
	return nil
}

// Rows loads every visible row. Blob columns are excluded from the select
// for memory reasons (a roster of photos does not belong in one query) and
// columns or ids hidden by the staging log are skipped, which is what lets
// "delete row" and "delete column" be undone before the save boundary.
func (t *Table) Rows(ctx context.Context, staged Visibility) ([]Row, error) {
	t.mu.RLock()
	var selected []Column
	for _, col := range t.columns {
		if col.Type == TypeBlob || col.PrimaryKey {
			continue
		}
		if staged != nil && staged.ColumnHidden(col.Name) {
			continue
		}
		selected = append(selected, col)
	}
	t.mu.RUnlock()

	colNames := make([]string, 0, len(selected)+1)
	colNames = append(colNames, "id")
	for _, col := range selected {
		colNames = append(colNames, quoteIdent(col.Name))
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id", strings.Join(colNames, ", "), quoteIdent(tableName))
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load inventory rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var id int64
		dests := make([]any, 0, len(selected)+1)
		dests = append(dests, &id)
		converts := make([]func() Value, len(selected))
		for i, col := range selected {
			dest, convert := scanDest(col.Type)
			dests = append(dests, dest)
			converts[i] = convert
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scan inventory row: %w", err)
		}

		if staged != nil && staged.RowHidden(id) {
			continue
		}

		values := make(map[string]Value, len(selected))
		for i, col := range selected {
			values[col.Name] = converts[i]()
		}
		out = append(out, Row{ID: id, Values: values})
	}
	return out, rows.Err()
}

// Photo fetches one row's photo blob, cache first. A miss reads the
// database and populates the cache; a row without a photo returns nil.
func (t *Table) Photo(ctx context.Context, id int64, column string) ([]byte, error) {
	if typ, ok := t.ColumnType(column); !ok || typ != TypeBlob {
		return nil, fmt.Errorf("%w: %s is not a blob column", ErrColumnNotFound, column)
	}

	if t.photos != nil {
		if data, ok := t.photos.Get(cache.KindInventory, id); ok {
			return data, nil
		}
	}

	var data []byte
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", quoteIdent(column), quoteIdent(tableName))
	err := t.db.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRowNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load inventory photo %d: %w", id, err)
	}

	if t.photos != nil && data != nil {
		t.photos.Set(cache.KindInventory, id, data)
	}
	return data, nil
}

// bindArgs validates values against the directory and produces quoted
// column names plus bind arguments in matching order.
func (t *Table) bindArgs(values map[string]Value) ([]string, []any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var cols []string
	var args []any
	for _, col := range t.columns {
		value, ok := values[col.Name]
		if !ok {
			continue
		}
		if col.PrimaryKey {
			return nil, nil, ErrColumnReserved
		}
		if value.Type() != col.Type {
			return nil, nil, fmt.Errorf("column %q is %s, got %s", col.Name, col.Type, value.Type())
		}
		cols = append(cols, quoteIdent(col.Name))
		args = append(args, value.arg())
	}

	for name := range values {
		if !containsColumn(t.columns, name) {
			return nil, nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
		}
	}
	return cols, args, nil
}

func containsColumn(columns []Column, name string) bool {
	for _, col := range columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func unquoteIdent(name string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, `"`), `"`)
	return strings.ReplaceAll(trimmed, `""`, `"`)
}
