// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package oracle

import (
	"bytes"
	"context"
	"database/sql"
	sqldriver "database/sql/driver"
	"io"

	"github.com/godror/godror"
	"github.com/pkg/errors"

	"github.com/canonical/sqlbind/driver"
	"github.com/canonical/sqlbind/internal/sqlconn"
)

// Conn is a godror connection that allocates large objects and cursors.
type Conn struct {
	*sqlconn.Conn
}

var _ driver.Resources = (*Conn)(nil)

// NewLOB implements driver.Resources.
func (c *Conn) NewLOB(ctx context.Context, t driver.Type) (driver.LOB, error) {
	if !t.IsLOB() {
		return nil, errors.Errorf("%s is not a large object type", t)
	}
	return &lob{out: godror.Lob{IsClob: t == driver.Clob}}, nil
}

// NewCursor implements driver.Resources.
func (c *Conn) NewCursor(ctx context.Context) (driver.CursorHandle, error) {
	return &cursor{}, nil
}

// lob is a BLOB or CLOB parameter. IN data is streamed to the server while
// the statement executes; OUT data is read from the returned locator.
type lob struct {
	out    godror.Lob
	in     []byte
	staged bool
}

func (l *lob) BindValue() any {
	if l.staged {
		return godror.Lob{Reader: bytes.NewReader(l.in), IsClob: l.out.IsClob}
	}
	return sql.Out{Dest: &l.out}
}

func (l *lob) Stage(data []byte) error {
	l.in = data
	l.staged = true
	return nil
}

func (l *lob) Flush(ctx context.Context) error {
	return nil
}

func (l *lob) Load(ctx context.Context) ([]byte, bool, error) {
	if l.out.Reader == nil {
		return nil, true, nil
	}
	data, err := io.ReadAll(l.out.Reader)
	if err != nil {
		return nil, false, errors.Wrap(err, "cannot read large object")
	}
	return data, false, nil
}

func (l *lob) Free() error {
	r := l.out.Reader
	l.out.Reader = nil
	l.in = nil
	if closer, ok := r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// cursor is a REF CURSOR OUT parameter.
type cursor struct {
	rows sqldriver.Rows
}

func (cur *cursor) BindValue() any {
	return sql.Out{Dest: &cur.rows}
}

func (cur *cursor) Open(ctx context.Context) (driver.Rows, error) {
	if cur.rows == nil {
		return nil, errors.New("cursor was not opened by the statement")
	}
	return newCursorRows(cur.rows), nil
}

func (cur *cursor) Free() error {
	rows := cur.rows
	cur.rows = nil
	if rows == nil {
		return nil
	}
	return rows.Close()
}

// cursorRows reads the rows of a cursor. Closing it leaves the cursor open
// until it is freed.
type cursorRows struct {
	rows sqldriver.Rows
	cols []string
	buf  []sqldriver.Value
}

func newCursorRows(rows sqldriver.Rows) *cursorRows {
	cols := rows.Columns()
	return &cursorRows{rows: rows, cols: cols, buf: make([]sqldriver.Value, len(cols))}
}

func (r *cursorRows) Columns() []string {
	return r.cols
}

func (r *cursorRows) ColumnType(i int) string {
	if ct, ok := r.rows.(sqldriver.RowsColumnTypeDatabaseTypeName); ok {
		return ct.ColumnTypeDatabaseTypeName(i)
	}
	return ""
}

func (r *cursorRows) Next(dest []any) error {
	if err := r.rows.Next(r.buf); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return sqlconn.Classify("fetch", err)
	}
	for i, v := range r.buf {
		if n, ok := v.(godror.Number); ok {
			v = string(n)
		}
		dest[i] = v
	}
	return nil
}

func (r *cursorRows) Close() error {
	return nil
}
