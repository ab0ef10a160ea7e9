// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package normalize

import (
	"fmt"
	"html"

	"github.com/mitchellh/mapstructure"
)

// Shape selects the keys by which the values of a Row are addressed.
type Shape int

const (
	// Assoc addresses values by column name.
	Assoc Shape = iota
	// Index addresses values by column position.
	Index
	// Both addresses values by position and by name.
	Both
)

func (s Shape) String() string {
	switch s {
	case Assoc:
		return "assoc"
	case Index:
		return "index"
	case Both:
		return "both"
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

func (s Shape) byName() bool {
	return s == Assoc || s == Both
}

func (s Shape) byIndex() bool {
	return s == Index || s == Both
}

// Row is a single normalized result row.
type Row struct {
	Columns []string
	Values  []any
	Shape   Shape
}

// Get returns the value for key. key is a column name (string) for the
// Assoc and Both shapes, or a column position (int) for the Index and Both
// shapes. When several columns share a name the last one wins.
func (r Row) Get(key any) (any, bool) {
	switch key := key.(type) {
	case string:
		if !r.Shape.byName() {
			return nil, false
		}
		for i := len(r.Columns) - 1; i >= 0; i-- {
			if r.Columns[i] == key {
				return r.Values[i], true
			}
		}
	case int:
		if r.Shape.byIndex() && key >= 0 && key < len(r.Values) {
			return r.Values[key], true
		}
	}
	return nil, false
}

// At returns the value of the column at position i regardless of shape.
func (r Row) At(i int) any {
	return r.Values[i]
}

// Keys returns the keys of the row in column order. With the Both shape the
// position of each column precedes its name.
func (r Row) Keys() []any {
	keys := make([]any, 0, len(r.Columns)*2)
	seen := map[string]bool{}
	for i, col := range r.Columns {
		if r.Shape.byIndex() {
			keys = append(keys, i)
		}
		if r.Shape.byName() && !seen[col] {
			seen[col] = true
			keys = append(keys, col)
		}
	}
	return keys
}

// Map returns the row as a mapping of its keys to values.
func (r Row) Map() map[any]any {
	m := make(map[any]any, len(r.Columns))
	for _, k := range r.Keys() {
		m[k], _ = r.Get(k)
	}
	return m
}

// Decode copies the row into dest, a pointer to a struct or map. Struct
// fields are matched to columns by their "db" tag.
func (r Row) Decode(dest any) error {
	byName := make(map[string]any, len(r.Columns))
	for i, col := range r.Columns {
		byName[col] = r.Values[i]
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "db",
		Result:           dest,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(byName); err != nil {
		return fmt.Errorf("cannot decode row: %w", err)
	}
	return nil
}

// Column is a single column of a result, or pairs of the first two columns.
type Column struct {
	// Keys holds the first column of each row when Paired.
	Keys []any
	// Values holds the second column of each row when Paired, or the only
	// column otherwise.
	Values []any
	Paired bool
}

// Map returns the pairs as a mapping. Later rows overwrite earlier rows
// with the same key. Keys that cannot be map keys are formatted as text.
func (c Column) Map() map[any]any {
	m := make(map[any]any, len(c.Values))
	for i, v := range c.Values {
		var k any = i
		if c.Paired {
			k = mapKey(c.Keys[i])
		}
		m[k] = v
	}
	return m
}

func mapKey(k any) any {
	switch k.(type) {
	case nil, bool, int64, float64, string:
		return k
	}
	return fmt.Sprint(k)
}

// FirstRow returns the first row, if any.
func FirstRow(rows []Row) (Row, bool) {
	if len(rows) == 0 {
		return Row{}, false
	}
	return rows[0], true
}

// FirstValue returns the first column of the first row. It reports false
// if there are no rows.
func FirstValue(rows []Row) (any, bool) {
	if len(rows) == 0 || len(rows[0].Values) == 0 {
		return nil, false
	}
	return rows[0].Values[0], true
}

// ColumnOf pairs the first and second columns of each row. If the result
// has a single column it collects that column alone.
func ColumnOf(rows []Row) Column {
	col := Column{Values: []any{}}
	if len(rows) > 0 && len(rows[0].Values) > 1 {
		col.Paired = true
		col.Keys = []any{}
	}
	for _, r := range rows {
		if len(r.Values) == 0 {
			continue
		}
		if col.Paired {
			col.Keys = append(col.Keys, r.Values[0])
			col.Values = append(col.Values, r.Values[1])
		} else {
			col.Values = append(col.Values, r.Values[0])
		}
	}
	return col
}

// HTMLEscape is an OutputFunc escaping text for inclusion in HTML.
func HTMLEscape(s string) string {
	return html.EscapeString(s)
}
