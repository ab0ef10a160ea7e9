// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlbind

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/driver"
	"github.com/canonical/sqlbind/internal/bind"
	"github.com/canonical/sqlbind/internal/expr"
	"github.com/canonical/sqlbind/internal/failure"
	"github.com/canonical/sqlbind/internal/normalize"
	"github.com/canonical/sqlbind/internal/savepoint"
	"github.com/canonical/sqlbind/internal/sqlconn"
)

const defaultCacheSize = 256

// Conn runs queries on a single database connection. All of its methods
// are serialized; a Conn may be shared between goroutines but runs one
// statement at a time.
type Conn struct {
	mutex      sync.Mutex
	drv        driver.Conn
	resources  driver.Resources
	dialect    *dialect.Dialect
	exprs      *lru.Cache[string, *expr.ParsedExpr]
	normalizer *normalize.Normalizer
	tracker    *savepoint.Tracker
	logger     hclog.Logger
	affected   int64
	closed     bool
}

// NewConn returns a Conn running its queries on drv. If drv also
// implements driver.Resources, large object and cursor markers can be used.
func NewConn(drv driver.Conn, cfg Config) (*Conn, error) {
	d := cfg.Dialect
	if d == nil {
		dc, ok := drv.(interface{ Dialect() *dialect.Dialect })
		if !ok {
			return nil, failure.Contractf("no dialect configured")
		}
		d = dc.Dialect()
	}
	size := cfg.StmtCacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	exprs, err := lru.New[string, *expr.ParsedExpr](size)
	if err != nil {
		return nil, err
	}
	logger := cfg.logger()
	c := &Conn{
		drv:     drv,
		dialect: d,
		exprs:   exprs,
		normalizer: &normalize.Normalizer{
			Dialect: d,
			Shape:   cfg.RowShape,
			Output:  cfg.Output,
		},
		tracker: savepoint.New(drv, d, logger),
		logger:  logger,
	}
	if res, ok := drv.(driver.Resources); ok {
		c.resources = res
	}
	return c, nil
}

// Open connects to a database through a registered database/sql driver,
// e.g. "sqlite3", "postgres" or "mysql". Use the oracle package to connect
// to Oracle.
func Open(ctx context.Context, driverName string, dsn string, cfg Config) (*Conn, error) {
	if cfg.Dialect == nil {
		d, err := dialect.ByName(driverName)
		if err != nil {
			return nil, failure.Contract("", err)
		}
		cfg.Dialect = d
	}
	size := cfg.StmtCacheSize
	if size <= 0 {
		size = sqlconn.DefaultCacheSize
	}
	drv, err := sqlconn.Open(ctx, driverName, dsn, cfg.Dialect, size)
	if err != nil {
		return nil, failure.Backend("", errors.Wrapf(err, "cannot connect to %s", maskPassword(dsn)))
	}
	return NewConn(drv, cfg)
}

// Execute runs a statement that returns no rows.
func (c *Conn) Execute(ctx context.Context, query string, args ...any) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	pq, logger, err := c.prime(query, args)
	if err != nil {
		return err
	}
	if pq.HasOutputs() {
		return failure.Contractf("query has output parameters, use Call: %s", query)
	}
	_, err = c.run(ctx, logger, pq, false)
	return err
}

// Call runs a statement, typically a procedure call, and returns the values
// of its OUT and CURSOR parameters. Cursor results are returned as []Row.
//
// If the call fails, the work of the innermost open transaction level is
// rolled back. If it succeeds with no transaction open on a backend whose
// transactions start implicitly, the work is committed.
func (c *Conn) Call(ctx context.Context, query string, args ...any) (Outputs, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	pq, logger, err := c.prime(query, args)
	if err != nil {
		return nil, err
	}
	outputs, err := c.run(ctx, logger, pq, true)
	if err != nil {
		return nil, err
	}
	if c.dialect.CommitAfterCall && c.tracker.Depth() == 0 {
		if err := c.drv.Exec(ctx, c.dialect.Commit); err != nil {
			return nil, failure.Backend("commit", err)
		}
	}
	return outputs, nil
}

// QueryRows runs a query and returns all of its rows. No rows is not an
// error.
func (c *Conn) QueryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	pq, logger, err := c.prime(query, args)
	if err != nil {
		return nil, err
	}
	if pq.HasOutputs() {
		return nil, failure.Contractf("query has output parameters, use Call: %s", query)
	}
	rows, err := c.query(ctx, logger, pq)
	if err != nil {
		return nil, failure.WithQuery(err, pq.SQL())
	}
	return rows, nil
}

// QueryRow runs a query and returns its first row. It reports false if
// there are no rows.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) (Row, bool, error) {
	rows, err := c.QueryRows(ctx, query, args...)
	if err != nil {
		return Row{}, false, err
	}
	row, ok := normalize.FirstRow(rows)
	return row, ok, nil
}

// QueryValue runs a query and returns the first column of its first row.
// It reports false if there are no rows.
func (c *Conn) QueryValue(ctx context.Context, query string, args ...any) (any, bool, error) {
	rows, err := c.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	v, ok := normalize.FirstValue(rows)
	return v, ok, nil
}

// QueryColumn runs a query and returns its first column. If the query
// returns two or more columns, the second column is paired with the first.
func (c *Conn) QueryColumn(ctx context.Context, query string, args ...any) (Column, error) {
	rows, err := c.QueryRows(ctx, query, args...)
	if err != nil {
		return Column{}, err
	}
	return normalize.ColumnOf(rows), nil
}

// AffectedRows returns the number of rows affected by the last Execute or
// Call.
func (c *Conn) AffectedRows() int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.affected
}

// SetRowShape sets the shape of the rows returned by later queries.
func (c *Conn) SetRowShape(shape RowShape) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.normalizer.Shape = shape
}

// RowShape returns the shape of returned rows.
func (c *Conn) RowShape() RowShape {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.normalizer.Shape
}

// SetOutputFunc sets the function applied to every string in results. A
// nil function leaves strings unchanged.
func (c *Conn) SetOutputFunc(f OutputFunc) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.normalizer.Output = f
}

// OutputFunc returns the function applied to strings in results.
func (c *Conn) OutputFunc() OutputFunc {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.normalizer.Output
}

// Dialect returns the dialect of the connection.
func (c *Conn) Dialect() *dialect.Dialect {
	return c.dialect
}

// Close rolls back any open transaction and closes the connection. It
// never commits.
func (c *Conn) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var result *multierror.Error
	if err := c.tracker.Close(context.Background()); err != nil {
		result = multierror.Append(result, err)
	}
	c.exprs.Purge()
	if err := c.drv.Close(); err != nil {
		result = multierror.Append(result, failure.Backend("close", err))
	}
	return result.ErrorOrNil()
}

// prime parses query and binds args to it. Nothing is sent to the backend.
func (c *Conn) prime(query string, args []any) (*expr.PrimedQuery, hclog.Logger, error) {
	if c.closed {
		return nil, nil, ErrConnClosed
	}
	pe, ok := c.exprs.Get(query)
	if !ok {
		var err error
		pe, err = expr.NewParser(c.dialect).Parse(query)
		if err != nil {
			return nil, nil, failure.Contract("", err)
		}
		c.exprs.Add(query, pe)
	}
	pq, err := pe.BindInputs(args...)
	if err != nil {
		return nil, nil, failure.Contract("", err)
	}
	logger := c.logger.With("call_id", uuid.NewString())
	if markers := len(pe.Markers()); len(args) > markers {
		logger.Debug("ignoring extra arguments", "markers", markers, "args", len(args))
	}
	return pq, logger, nil
}

// run executes pq and collects its outputs. The statement and every
// resource acquired for it are released before run returns.
func (c *Conn) run(ctx context.Context, logger hclog.Logger, pq *expr.PrimedQuery, call bool) (Outputs, error) {
	logger.Debug("execute", "query", pq.SQL(), "params", len(pq.Params()))
	outputs, err := c.exec(ctx, logger, pq)
	if err != nil {
		if call || pq.HasResources() {
			c.unwind(ctx, logger)
		}
		return nil, failure.WithQuery(err, pq.SQL())
	}
	for k, v := range outputs {
		outputs[k] = c.normalizer.Leaf(v)
	}
	return outputs, nil
}

func (c *Conn) exec(ctx context.Context, logger hclog.Logger, pq *expr.PrimedQuery) (Outputs, error) {
	stmt, err := c.drv.Prepare(ctx, pq.SQL())
	if err != nil {
		return nil, failure.Backend("prepare", err)
	}
	defer closeStmt(stmt, logger)

	binder := bind.New(c.resources, logger)
	if err := binder.Bind(ctx, stmt, pq.Params()); err != nil {
		return nil, err
	}
	res, err := stmt.Exec(ctx)
	if err != nil {
		return nil, binder.Abort(failure.Backend("execute", err))
	}
	c.affected = rowsAffected(res, logger)
	return binder.Collect(ctx, stmt, pq.Params(), c.cursorRows)
}

func (c *Conn) query(ctx context.Context, logger hclog.Logger, pq *expr.PrimedQuery) ([]Row, error) {
	logger.Debug("query", "query", pq.SQL(), "params", len(pq.Params()))
	stmt, err := c.drv.Prepare(ctx, pq.SQL())
	if err != nil {
		return nil, failure.Backend("prepare", err)
	}
	defer closeStmt(stmt, logger)

	binder := bind.New(c.resources, logger)
	if err := binder.Bind(ctx, stmt, pq.Params()); err != nil {
		return nil, err
	}
	drows, err := stmt.Query(ctx)
	if err != nil {
		return nil, binder.Abort(failure.Backend("execute", err))
	}
	rows, err := c.normalizer.Rows(drows)
	if cerr := drows.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, binder.Abort(failure.Backend("fetch", err))
	}
	if _, err := binder.Collect(ctx, stmt, pq.Params(), c.cursorRows); err != nil {
		return nil, err
	}
	return rows, nil
}

// unwind undoes the work of a failed call. With no transaction open on a
// backend in autocommit mode there is nothing to undo.
func (c *Conn) unwind(ctx context.Context, logger hclog.Logger) {
	if c.tracker.Depth() == 0 && c.dialect.Begin != "" {
		return
	}
	if err := c.tracker.Unwind(ctx); err != nil {
		logger.Warn("cannot roll back failed call", "err", err)
	}
}

func (c *Conn) cursorRows(rows driver.Rows) (any, error) {
	return c.normalizer.Rows(rows)
}

func closeStmt(stmt driver.Stmt, logger hclog.Logger) {
	if err := stmt.Close(); err != nil {
		logger.Warn("cannot close statement", "err", err)
	}
}

func rowsAffected(res driver.Result, logger hclog.Logger) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		logger.Debug("affected row count unavailable", "err", err)
		return 0
	}
	return n
}
