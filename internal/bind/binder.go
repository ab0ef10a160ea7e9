// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package bind

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/canonical/sqlbind/driver"
	"github.com/canonical/sqlbind/internal/failure"
)

// RowsFunc materialises the rows of a cursor.
type RowsFunc func(driver.Rows) (any, error)

// Binder binds the parameters of one statement execution and owns the
// server side resources acquired for it.
type Binder struct {
	resources driver.Resources
	logger    hclog.Logger
	registry  Registry
	lobs      map[int]driver.LOB
	cursors   map[int]driver.CursorHandle
	handles   map[int]*Handle
}

// New returns a Binder allocating resources from res. res may be nil if
// the connection has no resource support.
func New(res driver.Resources, logger hclog.Logger) *Binder {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Binder{
		resources: res,
		logger:    logger,
		lobs:      map[int]driver.LOB{},
		cursors:   map[int]driver.CursorHandle{},
		handles:   map[int]*Handle{},
	}
}

// Bind binds every parameter to stmt, acquiring a LOB or cursor for the
// parameters that need one. If a parameter cannot be bound no further
// resources are acquired, and every resource acquired so far is released
// before the error is returned.
func (b *Binder) Bind(ctx context.Context, stmt driver.Stmt, params []driver.Param) error {
	for i, p := range params {
		bound, err := b.acquire(ctx, i, p)
		if err == nil {
			err = stmt.Bind(bound)
			if err != nil {
				err = failure.Backend("bind "+describe(p), err)
			}
		}
		if err != nil {
			return b.Abort(err)
		}
	}
	return nil
}

// acquire returns the parameter to bind for p, allocating the resource it
// needs.
func (b *Binder) acquire(ctx context.Context, i int, p driver.Param) (driver.Param, error) {
	switch {
	case p.Type == driver.Cursor:
		if b.resources == nil {
			return p, failure.Contractf("driver does not support cursor parameters")
		}
		cur, err := b.resources.NewCursor(ctx)
		if err != nil {
			return p, failure.Resource("allocate cursor "+p.Name, err)
		}
		b.cursors[i] = cur
		b.handles[i] = b.registry.Track("cursor "+p.Name, cur.Free)
		p.Value = cur.BindValue()
	case p.Type.IsLOB():
		if b.resources == nil {
			return p, failure.Contractf("driver does not support %s parameters", p.Type)
		}
		lob, err := b.resources.NewLOB(ctx, p.Type)
		if err != nil {
			return p, failure.Resource("allocate "+describe(p), err)
		}
		b.lobs[i] = lob
		b.handles[i] = b.registry.Track(describe(p), lob.Free)
		if p.Role == driver.RoleIn {
			data, _ := p.Value.([]byte)
			if err := lob.Stage(data); err != nil {
				return p, failure.Resource("stage "+describe(p), err)
			}
		}
		p.Value = lob.BindValue()
	}
	return p, nil
}

// Collect reads the results of the bound parameters after stmt has
// executed. IN LOBs are flushed, OUT LOBs are loaded and cursors are read
// with rowsFn. Each resource is released as soon as it has been read, and
// all of them are released before Collect returns.
//
// The returned map is keyed by parameter name. A parameter that is neither
// OUT nor CURSOR is only present when it resolves to a non NULL value.
func (b *Binder) Collect(ctx context.Context, stmt driver.Stmt, params []driver.Param, rowsFn RowsFunc) (map[string]any, error) {
	outputs := map[string]any{}
	for i, p := range params {
		v, err := b.collect(ctx, stmt, i, p, rowsFn)
		if err != nil {
			return nil, b.Abort(err)
		}
		if v == nil && p.Role == driver.RoleIn {
			continue
		}
		outputs[p.Name] = v
	}
	if err := b.Release(); err != nil {
		return nil, failure.Resource("release", err)
	}
	return outputs, nil
}

func (b *Binder) collect(ctx context.Context, stmt driver.Stmt, i int, p driver.Param, rowsFn RowsFunc) (any, error) {
	if cur, ok := b.cursors[i]; ok {
		rows, err := cur.Open(ctx)
		if err != nil {
			b.releaseOne(i)
			return nil, failure.Backend("open cursor "+p.Name, err)
		}
		v, err := rowsFn(rows)
		if cerr := rows.Close(); err == nil && cerr != nil {
			err = failure.Backend("close cursor "+p.Name, cerr)
		}
		if rerr := b.releaseOne(i); err == nil {
			err = rerr
		}
		return v, err
	}

	if lob, ok := b.lobs[i]; ok {
		if p.Role == driver.RoleIn {
			err := lob.Flush(ctx)
			if err != nil {
				err = failure.Resource("flush "+describe(p), err)
			}
			return nil, b.keepFirst(err, b.releaseOne(i))
		}
		data, null, err := lob.Load(ctx)
		if err != nil {
			return nil, b.keepFirst(failure.Resource("load "+describe(p), err), b.releaseOne(i))
		}
		if err := b.releaseOne(i); err != nil {
			return nil, err
		}
		if null {
			return nil, nil
		}
		if p.Type == driver.Clob {
			return string(data), nil
		}
		return data, nil
	}

	if p.Role == driver.RoleOut {
		v, err := stmt.Out(p)
		if err != nil {
			return nil, failure.Backend("read "+describe(p), err)
		}
		return v, nil
	}
	return nil, nil
}

// Release frees every resource still held.
func (b *Binder) Release() error {
	err := b.registry.Release()
	if err != nil {
		b.logger.Warn("cannot release resources", "err", err)
	}
	return err
}

// Held returns the number of resources not yet released.
func (b *Binder) Held() int {
	return b.registry.Len()
}

func (b *Binder) releaseOne(i int) error {
	h, ok := b.handles[i]
	if !ok {
		return nil
	}
	if err := b.registry.ReleaseOne(h); err != nil {
		b.logger.Warn("cannot release resource", "err", err)
		return failure.Resource("release", err)
	}
	return nil
}

// Abort releases every resource and returns err along with any release
// failures.
func (b *Binder) Abort(err error) error {
	return b.keepFirst(err, b.Release())
}

// keepFirst returns err, with releaseErr appended when both are set.
func (b *Binder) keepFirst(err, releaseErr error) error {
	if err == nil {
		return releaseErr
	}
	if releaseErr == nil {
		return err
	}
	return multierror.Append(err, releaseErr)
}

func describe(p driver.Param) string {
	kind := p.Role.String()
	if p.Type.IsLOB() {
		kind += " " + p.Type.String()
	}
	if p.Name == "" {
		return kind + " parameter"
	}
	return kind + " parameter " + p.Name
}
