// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlbind

import (
	"context"

	"github.com/canonical/sqlbind/internal/savepoint"
)

// Tx is one level of nested transaction on a Conn. The outermost level is
// a database transaction and each level is a savepoint. Levels must be
// committed or rolled back innermost first.
type Tx struct {
	conn *Conn
	tok  *savepoint.Token
}

// Begin opens a transaction level. If no transaction is open one is
// started.
func (c *Conn) Begin(ctx context.Context) (*Tx, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return nil, ErrConnClosed
	}
	tok, err := c.tracker.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{conn: c, tok: tok}, nil
}

// Commit commits the innermost transaction level.
func (c *Conn) Commit(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	tok, err := c.tracker.Innermost()
	if err != nil {
		return err
	}
	return c.tracker.Commit(ctx, tok)
}

// Rollback rolls back the innermost transaction level.
func (c *Conn) Rollback(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	tok, err := c.tracker.Innermost()
	if err != nil {
		return err
	}
	return c.tracker.Rollback(ctx, tok)
}

// Depth returns the number of open transaction levels.
func (c *Conn) Depth() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.tracker.Depth()
}

// Level returns the depth of the transaction level, starting at 1.
func (tx *Tx) Level() int {
	return tx.tok.Level()
}

// Commit commits the level. It returns ErrSavepointOrder if an inner level
// is still open and ErrTxDone if the level has already ended.
func (tx *Tx) Commit(ctx context.Context) error {
	tx.conn.mutex.Lock()
	defer tx.conn.mutex.Unlock()
	return tx.conn.tracker.Commit(ctx, tx.tok)
}

// Rollback rolls back the level. It returns ErrSavepointOrder if an inner
// level is still open and ErrTxDone if the level has already ended.
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.conn.mutex.Lock()
	defer tx.conn.mutex.Unlock()
	return tx.conn.tracker.Rollback(ctx, tx.tok)
}
