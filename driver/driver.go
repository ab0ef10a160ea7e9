// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package driver defines the interfaces a database backend implements to be
// used by sqlbind. It mirrors database/sql/driver but keeps parameter binding,
// server side resources and column type names explicit.
package driver

import (
	"context"
)

// Type is the wire type tag attached to a bound parameter or reported for a
// result column.
type Type int

const (
	Null Type = iota
	Integer
	Float
	Text
	Bool
	JSON
	Array
	Bytes
	Blob
	Clob
	Cursor
)

var typeNames = [...]string{
	Null:    "NULL",
	Integer: "INTEGER",
	Float:   "FLOAT",
	Text:    "TEXT",
	Bool:    "BOOL",
	JSON:    "JSON",
	Array:   "ARRAY",
	Bytes:   "BYTES",
	Blob:    "BLOB",
	Clob:    "CLOB",
	Cursor:  "CURSOR",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "UNKNOWN"
	}
	return typeNames[t]
}

// IsLOB reports whether values of the type are held in a server side large
// object.
func (t Type) IsLOB() bool {
	return t == Blob || t == Clob
}

// Role is the direction of a bound parameter.
type Role int

const (
	RoleIn Role = iota
	RoleOut
	RoleCursor
)

func (r Role) String() string {
	switch r {
	case RoleIn:
		return "IN"
	case RoleOut:
		return "OUT"
	case RoleCursor:
		return "CURSOR"
	}
	return "UNKNOWN"
}

// Param is a single parameter ready to be bound to a prepared statement.
type Param struct {
	// Position is the 1-based index of the parameter in the rewritten query.
	Position int
	// Name is the placeholder name for dialects with named placeholders.
	Name string
	Role Role
	Type Type
	// Size is the output buffer size of OUT parameters.
	Size int
	// Value is the wire value of IN parameters, or the bind value of a
	// server side resource.
	Value any
}

// Result summarises the execution of a statement.
type Result interface {
	RowsAffected() (int64, error)
}

// Rows is an iterator over a result set.
type Rows interface {
	Columns() []string
	// ColumnType returns the backend type name of column i, e.g. "INT4" or
	// "_TEXT". An empty string means the type is unknown.
	ColumnType(i int) string
	// Next fills dest with the values of the next row. It returns io.EOF
	// when there are no more rows.
	Next(dest []any) error
	Close() error
}

// Stmt is a prepared statement.
type Stmt interface {
	Bind(p Param) error
	Exec(ctx context.Context) (Result, error)
	Query(ctx context.Context) (Rows, error)
	// Out returns the value of an OUT parameter after Exec.
	Out(p Param) (any, error)
	Close() error
}

// Conn is a single connection to the backend. A Conn is used by one
// goroutine at a time.
type Conn interface {
	Prepare(ctx context.Context, query string) (Stmt, error)
	// Exec runs a statement without parameters, such as transaction
	// control statements.
	Exec(ctx context.Context, query string) error
	Close() error
}

// Resources is implemented by connections that can allocate server side
// large objects and cursors.
type Resources interface {
	NewLOB(ctx context.Context, t Type) (LOB, error)
	NewCursor(ctx context.Context) (CursorHandle, error)
}

// LOB is a server side large object handle.
type LOB interface {
	// BindValue returns the value to bind to the statement.
	BindValue() any
	// Stage holds data to be written to the object.
	Stage(data []byte) error
	// Flush writes the staged data after the statement has executed.
	Flush(ctx context.Context) error
	// Load reads the object content. The bool result is true when the
	// object is NULL.
	Load(ctx context.Context) ([]byte, bool, error)
	Free() error
}

// CursorHandle is a server side cursor.
type CursorHandle interface {
	BindValue() any
	// Open returns the rows of the cursor after the statement has executed.
	Open(ctx context.Context) (Rows, error)
	Free() error
}

// Coder is implemented by backend errors carrying a native error code.
type Coder interface {
	Code() int
}
