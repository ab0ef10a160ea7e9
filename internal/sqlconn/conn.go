// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package sqlconn adapts a database/sql connection to the driver
// interfaces. Every statement of a Conn runs on the same pinned connection
// so that transaction control statements and savepoints apply to it.
package sqlconn

import (
	"context"
	"database/sql"
	"io"
	"strconv"

	dqlitedriver "github.com/canonical/go-dqlite/driver"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/driver"
	"github.com/canonical/sqlbind/internal/failure"
)

// Conn is a driver.Conn over a single database/sql connection.
type Conn struct {
	db      *sqlx.DB
	conn    *sqlx.Conn
	dialect *dialect.Dialect
	cache   *statementCache
	// ownDB is true if the Conn opened db and must close it.
	ownDB bool
}

var _ driver.Conn = (*Conn)(nil)

// Open opens a database with a registered database/sql driver and pins a
// connection of it.
func Open(ctx context.Context, driverName string, dsn string, d *dialect.Dialect, cacheSize int) (*Conn, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, failure.Backend("connect", err)
	}
	return OpenDB(ctx, db, d, cacheSize)
}

// OpenDB pins a connection of db. db is closed along with the Conn, or
// straight away if no connection can be made.
func OpenDB(ctx context.Context, db *sqlx.DB, d *dialect.Dialect, cacheSize int) (*Conn, error) {
	c, err := New(ctx, db, d, cacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.ownDB = true
	return c, nil
}

// New pins a connection of db. db stays open when the Conn is closed.
func New(ctx context.Context, db *sqlx.DB, d *dialect.Dialect, cacheSize int) (*Conn, error) {
	cache, err := newStatementCache(cacheSize)
	if err != nil {
		return nil, err
	}
	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, Classify("connect", err)
	}
	return &Conn{db: db, conn: conn, dialect: d, cache: cache}, nil
}

// Dialect returns the dialect the connection was opened with.
func (c *Conn) Dialect() *dialect.Dialect {
	return c.dialect
}

// Prepare implements driver.Conn.
func (c *Conn) Prepare(ctx context.Context, query string) (driver.Stmt, error) {
	sx, err := c.cache.prepare(ctx, c.conn, query)
	if err != nil {
		return nil, Classify("prepare", err)
	}
	return &stmt{conn: c, sx: sx, outs: map[int]any{}}, nil
}

// Exec implements driver.Conn.
func (c *Conn) Exec(ctx context.Context, query string) error {
	if _, err := c.conn.ExecContext(ctx, query); err != nil {
		return Classify("exec", err)
	}
	return nil
}

// Close closes every cached statement and returns the connection to its
// pool.
func (c *Conn) Close() error {
	c.cache.purge()
	err := c.conn.Close()
	if c.ownDB {
		if cerr := c.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// CachedStatements returns the number of statements kept prepared.
func (c *Conn) CachedStatements() int {
	return c.cache.len()
}

// stmt binds the parameters of a single execution of a cached statement.
type stmt struct {
	conn *Conn
	sx   *sqlx.Stmt
	args []any
	// outs holds the destination of each OUT parameter by position.
	outs   map[int]any
	closed bool
}

func (s *stmt) Bind(p driver.Param) error {
	var arg any = p.Value
	if p.Role == driver.RoleOut && !p.Type.IsLOB() {
		dest := outDest(p.Type)
		s.outs[p.Position] = dest
		arg = sql.Out{Dest: dest}
	}
	if s.conn.dialect.Style == dialect.Named {
		arg = sql.Named(p.Name, arg)
	}
	s.args = append(s.args, arg)
	return nil
}

// outDest returns a pointer to receive an OUT parameter of type t. The
// destinations are nullable so that a NULL OUT value is told apart from a
// zero value.
func outDest(t driver.Type) any {
	switch t {
	case driver.Integer:
		return new(sql.NullInt64)
	case driver.Float:
		return new(sql.NullFloat64)
	}
	return new(sql.NullString)
}

func (s *stmt) Exec(ctx context.Context) (driver.Result, error) {
	res, err := s.sx.ExecContext(ctx, s.args...)
	if err != nil {
		return nil, Classify("execute", err)
	}
	return res, nil
}

func (s *stmt) Query(ctx context.Context) (driver.Rows, error) {
	rx, err := s.sx.QueryxContext(ctx, s.args...)
	if err != nil {
		return nil, Classify("execute", err)
	}
	return NewRows(rx)
}

func (s *stmt) Out(p driver.Param) (any, error) {
	dest, ok := s.outs[p.Position]
	if !ok {
		return nil, errors.Errorf("parameter %d is not an output parameter", p.Position)
	}
	switch dest := dest.(type) {
	case *sql.NullInt64:
		if !dest.Valid {
			return nil, nil
		}
		return dest.Int64, nil
	case *sql.NullFloat64:
		if !dest.Valid {
			return nil, nil
		}
		return dest.Float64, nil
	case *sql.NullString:
		if !dest.Valid {
			return nil, nil
		}
		return dest.String, nil
	}
	return nil, errors.Errorf("unexpected output destination %T", dest)
}

func (s *stmt) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.cache.release(s.sx)
}

// Rows is a driver.Rows over database/sql rows.
type Rows struct {
	rx    *sqlx.Rows
	cols  []string
	types []*sql.ColumnType
}

// NewRows wraps rx.
func NewRows(rx *sqlx.Rows) (*Rows, error) {
	cols, err := rx.Columns()
	if err != nil {
		rx.Close()
		return nil, Classify("fetch", err)
	}
	types, err := rx.ColumnTypes()
	if err != nil {
		rx.Close()
		return nil, Classify("fetch", err)
	}
	return &Rows{rx: rx, cols: cols, types: types}, nil
}

func (r *Rows) Columns() []string {
	return r.cols
}

func (r *Rows) ColumnType(i int) string {
	return r.types[i].DatabaseTypeName()
}

func (r *Rows) Next(dest []any) error {
	if !r.rx.Next() {
		if err := r.rx.Err(); err != nil {
			return Classify("fetch", err)
		}
		return io.EOF
	}
	values, err := r.rx.SliceScan()
	if err != nil {
		return Classify("fetch", err)
	}
	copy(dest, values)
	return nil
}

func (r *Rows) Close() error {
	return r.rx.Close()
}

// Classify classifies err as a backend failure of op, attaching the native
// error code of the supported drivers.
func Classify(op string, err error) error {
	return failure.BackendCode(op, errorCode(err), err)
}

func errorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return strconv.Itoa(int(mysqlErr.Number))
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strconv.Itoa(int(sqliteErr.ExtendedCode))
	}
	var dqliteErr dqlitedriver.Error
	if errors.As(err, &dqliteErr) {
		return strconv.Itoa(dqliteErr.Code)
	}
	return ""
}
