// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dynamictable manages the inventory table, whose column set is not
// fixed at compile time. Users add, rename and drop columns at runtime; an
// in-memory column directory mirrors the live schema and drives typed binds
// for generic row maps.
package dynamictable

import (
	"database/sql"
	"fmt"
)

// Type is a column's declared affinity in the dynamic table.
type Type int

const (
	// TypeText stores strings.
	TypeText Type = iota
	// TypeInteger stores 64-bit integers.
	TypeInteger
	// TypeBlob stores opaque bytes (photos). Blob columns exist in the
	// fixed seed schema but cannot be added dynamically.
	TypeBlob
)

func (t Type) String() string {
	switch t {
	case TypeText:
		return "TEXT"
	case TypeInteger:
		return "INTEGER"
	case TypeBlob:
		return "BLOB"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Value is a tagged variant for one dynamic cell: text, integer or blob,
// any of which may be null. Dispatch on Type is exhaustive; there is no
// untyped escape hatch.
type Value struct {
	typ     Type
	null    bool
	text    string
	integer int64
	blob    []byte
}

// Text returns a non-null text value.
func Text(s string) Value { return Value{typ: TypeText, text: s} }

// Integer returns a non-null integer value.
func Integer(i int64) Value { return Value{typ: TypeInteger, integer: i} }

// Blob returns a non-null blob value.
func Blob(b []byte) Value { return Value{typ: TypeBlob, blob: b} }

// Null returns the null value of the given type.
func Null(t Type) Value { return Value{typ: t, null: true} }

// Type returns the value's declared type.
func (v Value) Type() Type { return v.typ }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.null }

// AsText returns the text payload; ok is false for null or non-text values.
func (v Value) AsText() (string, bool) {
	if v.typ != TypeText || v.null {
		return "", false
	}
	return v.text, true
}

// AsInteger returns the integer payload; ok is false for null or non-integer
// values.
func (v Value) AsInteger() (int64, bool) {
	if v.typ != TypeInteger || v.null {
		return 0, false
	}
	return v.integer, true
}

// AsBlob returns the blob payload; ok is false for null or non-blob values.
func (v Value) AsBlob() ([]byte, bool) {
	if v.typ != TypeBlob || v.null {
		return nil, false
	}
	return v.blob, true
}

// Equal compares two values by type and payload.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ || v.null != other.null {
		return false
	}
	if v.null {
		return true
	}
	switch v.typ {
	case TypeText:
		return v.text == other.text
	case TypeInteger:
		return v.integer == other.integer
	case TypeBlob:
		return string(v.blob) == string(other.blob)
	default:
		return false
	}
}

// arg converts the value to a driver bind argument.
func (v Value) arg() any {
	if v.null {
		return nil
	}
	switch v.typ {
	case TypeText:
		return v.text
	case TypeInteger:
		return v.integer
	case TypeBlob:
		return v.blob
	default:
		return nil
	}
}

// scanDest returns a scan destination for a column of type t, and a closure
// converting the scanned payload back into a Value.
func scanDest(t Type) (any, func() Value) {
	switch t {
	case TypeInteger:
		dest := new(sql.NullInt64)
		return dest, func() Value {
			if !dest.Valid {
				return Null(TypeInteger)
			}
			return Integer(dest.Int64)
		}
	case TypeBlob:
		dest := new([]byte)
		return dest, func() Value {
			if *dest == nil {
				return Null(TypeBlob)
			}
			return Blob(*dest)
		}
	default:
		dest := new(sql.NullString)
		return dest, func() Value {
			if !dest.Valid {
				return Null(TypeText)
			}
			return Text(dest.String)
		}
	}
}
