// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlbind

import (
	"github.com/canonical/sqlbind/internal/normalize"
)

// M is a convenience type for structured values. Any map with string keys,
// or any struct, is bound as JSON on backends that support it.
//
// Example:
//
//	err := conn.Execute(ctx, "INSERT INTO docs (body) VALUES (?)", sqlbind.M{"id": 10})
type M map[string]any

// S is a convenience type for sequence values. A sequence bound to the
// only marker of an IN list expands the list:
//
//	rows, err := conn.QueryRows(ctx, "SELECT * FROM t WHERE id IN (?)", sqlbind.S{1, 2, 3})
//
// Anywhere else it is bound as an array on backends with native arrays.
type S []any

// RowShape selects how the values of a Row are addressed.
type RowShape = normalize.Shape

const (
	// Assoc rows are addressed by column name. It is the default.
	Assoc = normalize.Assoc
	// Index rows are addressed by column position.
	Index = normalize.Index
	// Both rows are addressed by position and by name.
	Both = normalize.Both
)

// Row is a normalized result row.
type Row = normalize.Row

// Column holds a single column of a result, or the pairs made by its first
// two columns.
type Column = normalize.Column

// OutputFunc is applied to every string in the results of a Conn.
type OutputFunc = normalize.OutputFunc

// HTMLEscape is an OutputFunc that escapes text for inclusion in HTML.
var HTMLEscape OutputFunc = normalize.HTMLEscape

// Outputs holds the values of the OUT and CURSOR parameters of a Call,
// keyed by parameter name. A NULL OUT value is present as nil. Parameters
// of any other role are left out when their value is NULL.
type Outputs map[string]any
