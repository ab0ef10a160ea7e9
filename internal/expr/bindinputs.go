// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/driver"
	"github.com/canonical/sqlbind/internal/typeinfo"
)

// PrimedQuery contains the rewritten SQL and the parameters to bind to it.
type PrimedQuery struct {
	sql    string
	params []driver.Param
}

// SQL returns the rewritten query text.
func (pq *PrimedQuery) SQL() string {
	return pq.sql
}

// Params returns the parameters in the order they must be bound.
func (pq *PrimedQuery) Params() []driver.Param {
	return pq.params
}

// HasOutputs returns true if the query has OUT or CURSOR markers.
func (pq *PrimedQuery) HasOutputs() bool {
	for _, p := range pq.params {
		if p.Role != driver.RoleIn {
			return true
		}
	}
	return false
}

// HasResources returns true if binding the query needs server side
// resources.
func (pq *PrimedQuery) HasResources() bool {
	for _, p := range pq.params {
		if p.Type.IsLOB() || p.Type == driver.Cursor {
			return true
		}
	}
	return false
}

// ArityError is returned when fewer values than markers are supplied, or
// more values than markers for dialects with strict arity.
type ArityError struct {
	Query   string
	Markers int
	Values  int
}

func (e *ArityError) Error() string {
	if e.Values < e.Markers {
		return fmt.Sprintf("insufficient arguments for query [%s]", e.Query)
	}
	return fmt.Sprintf("too many arguments for query [%s]: expected %d, got %d", e.Query, e.Markers, e.Values)
}

// BindInputs takes the query arguments and returns the PrimedQuery ready for
// use with the database. There is one argument per marker, in order of
// appearance. Arguments of OUT and CURSOR markers are ignored.
func (pe *ParsedExpr) BindInputs(args ...any) (*PrimedQuery, error) {
	markers := 0
	for _, part := range pe.parts {
		if _, ok := part.(*markerPart); ok {
			markers++
		}
	}
	if len(args) < markers || (pe.dialect.StrictArity && len(args) > markers) {
		return nil, &ArityError{Query: pe.query, Markers: markers, Values: len(args)}
	}

	b := &inputBinder{
		dialect: pe.dialect,
		markers: markers,
		head:    make([]driver.Param, 0, markers),
		names:   map[string]bool{},
	}
	for _, part := range pe.parts {
		if m, ok := part.(*markerPart); ok && m.name != "" {
			b.names[m.name] = true
		}
	}

	i := 0
	for _, part := range pe.parts {
		switch part := part.(type) {
		case *markerPart:
			if err := b.bindMarker(part, args[i]); err != nil {
				return nil, fmt.Errorf("invalid input parameter %d: %s", i+1, err)
			}
			i++
		case *bypassPart:
			b.sql.write(part.chunk)
		default:
			return nil, fmt.Errorf("internal error: unknown query part type %T", part)
		}
	}

	params := append(b.head, b.tail...)
	return &PrimedQuery{sql: b.sql.getSQL(), params: params}, nil
}

// inputBinder accumulates the rewritten SQL and parameters of one
// BindInputs call.
type inputBinder struct {
	dialect *dialect.Dialect
	markers int
	sql     sqlBuilder
	// head holds one parameter per marker, or the parameters in order of
	// appearance for dialects with unnumbered placeholders.
	head []driver.Param
	// tail holds the extra parameters of IN list expansions for dialects
	// with numbered placeholders.
	tail []driver.Param
	// names holds the placeholder names in use.
	names map[string]bool
}

func (b *inputBinder) bindMarker(m *markerPart, arg any) error {
	switch {
	case m.role == driver.RoleCursor:
		b.writeParam(driver.Param{Name: m.name, Role: driver.RoleCursor, Type: driver.Cursor})
		return nil
	case m.role == driver.RoleOut:
		typ := driver.Text
		if m.lob != 0 {
			typ = m.lob
		}
		b.writeParam(driver.Param{Name: m.name, Role: driver.RoleOut, Type: typ, Size: m.size})
		return nil
	}

	v, err := typeinfo.Of(arg)
	if err != nil {
		return err
	}

	if m.lob != 0 {
		switch v := v.(type) {
		case typeinfo.Null:
			b.writeParam(driver.Param{Name: m.name, Type: driver.Text})
		case typeinfo.Text:
			b.writeParam(driver.Param{Name: m.name, Type: m.lob, Value: []byte(v)})
		default:
			return fmt.Errorf("cannot bind %s value to %s marker %q", typeinfo.Category(v), m.lob, m.name)
		}
		return nil
	}

	seq, isSeq := v.(typeinfo.Seq)
	if !isSeq || !m.inList {
		p, err := b.inParam(m.name, v)
		if err != nil {
			return err
		}
		b.writeParam(p)
		return nil
	}

	switch len(seq) {
	case 0:
		b.writeParam(driver.Param{Name: m.name, Type: driver.Text})
		return nil
	case 1:
		p, err := b.inParam(m.name, seq[0])
		if err != nil {
			return err
		}
		b.writeParam(p)
		return nil
	}

	params := make([]driver.Param, len(seq))
	for i, elem := range seq {
		if params[i], err = b.inParam(m.name, elem); err != nil {
			return fmt.Errorf("element %d: %s", i, err)
		}
	}
	b.writeParam(params[0])
	for _, p := range params[1:] {
		b.sql.write(", ")
		b.writeExtra(p)
	}
	return nil
}

func (b *inputBinder) inParam(name string, v typeinfo.Value) (driver.Param, error) {
	typ, err := typeinfo.Infer(v, b.dialect)
	if err != nil {
		return driver.Param{}, err
	}
	wire, err := typeinfo.Wire(v)
	if err != nil {
		return driver.Param{}, err
	}
	return driver.Param{Name: name, Role: driver.RoleIn, Type: typ, Value: wire}, nil
}

// writeParam binds the parameter of a marker and writes its placeholder.
func (b *inputBinder) writeParam(p driver.Param) {
	p.Position = len(b.head) + 1
	b.head = append(b.head, p)
	b.sql.writePlaceholder(b.dialect, p)
}

// writeExtra binds an extra parameter of an IN list expansion and writes its
// placeholder. Numbered placeholders are appended after every marker,
// numbered by the current length of the parameter list.
func (b *inputBinder) writeExtra(p driver.Param) {
	if p.Name != "" {
		p.Name = b.uniqueName(p.Name)
	}
	if !b.dialect.Numbered() {
		b.writeParam(p)
		return
	}
	p.Position = b.markers + len(b.tail) + 1
	b.tail = append(b.tail, p)
	b.sql.writePlaceholder(b.dialect, p)
}

// uniqueName returns name_N for the smallest N >= 2 not already in use.
func (b *inputBinder) uniqueName(name string) string {
	for n := 2; ; n++ {
		candidate := name + "_" + strconv.Itoa(n)
		if !b.names[candidate] {
			b.names[candidate] = true
			return candidate
		}
	}
}

// sqlBuilder is used to generate SQL string piece by piece using the struct
// methods.
type sqlBuilder struct {
	buf bytes.Buffer
}

// writePlaceholder writes the dialect placeholder of a parameter.
func (b *sqlBuilder) writePlaceholder(d *dialect.Dialect, p driver.Param) {
	b.buf.WriteString(d.PlaceholderText(p.Position, p.Name))
}

// write writes the SQL to the sqlBuilder.
func (b *sqlBuilder) write(sql string) {
	b.buf.WriteString(sql)
}

// getSQL returns the generated SQL string
func (b *sqlBuilder) getSQL() string {
	return b.buf.String()
}
