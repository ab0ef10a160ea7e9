// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package savepoint tracks nested transactions on a single connection. The
// outermost level is a real transaction and every level, including the
// outermost, is a savepoint named after its depth.
package savepoint

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/internal/failure"
)

// Executor runs a statement that takes no parameters.
type Executor interface {
	Exec(ctx context.Context, query string) error
}

// Token identifies one level of the savepoint stack.
type Token struct {
	level int
	done  int32
}

// Level returns the depth at which the token was created.
func (tok *Token) Level() int {
	return tok.level
}

func (tok *Token) isDone() bool {
	return atomic.LoadInt32(&tok.done) == 1
}

func (tok *Token) setDone() {
	atomic.StoreInt32(&tok.done, 1)
}

// Tracker holds the savepoint stack of a connection. It is not safe for
// concurrent use.
type Tracker struct {
	exec    Executor
	dialect *dialect.Dialect
	logger  hclog.Logger
	stack   []*Token
}

// New returns a Tracker issuing its statements through exec.
func New(exec Executor, d *dialect.Dialect, logger hclog.Logger) *Tracker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Tracker{exec: exec, dialect: d, logger: logger}
}

// Name returns the savepoint name of a level.
func Name(level int) string {
	return "level_" + strconv.Itoa(level)
}

// Depth returns the number of open levels.
func (t *Tracker) Depth() int {
	return len(t.stack)
}

// Begin opens a new level, starting a transaction if none is open.
func (t *Tracker) Begin(ctx context.Context) (*Token, error) {
	level := len(t.stack) + 1
	if level == 1 && t.dialect.Begin != "" {
		if err := t.run(ctx, "begin", t.dialect.Begin); err != nil {
			return nil, err
		}
	}
	if err := t.run(ctx, "savepoint", "SAVEPOINT "+Name(level)); err != nil {
		if level == 1 {
			t.abandon(ctx)
		}
		return nil, err
	}
	tok := &Token{level: level}
	t.stack = append(t.stack, tok)
	return tok, nil
}

// Commit releases the level of tok, committing the transaction if it is the
// outermost. tok must be the innermost open level.
func (t *Tracker) Commit(ctx context.Context, tok *Token) error {
	if err := t.check(tok); err != nil {
		return err
	}
	if t.dialect.ReleaseSavepoints {
		if err := t.run(ctx, "commit", "RELEASE SAVEPOINT "+Name(tok.level)); err != nil {
			return err
		}
	}
	if tok.level == 1 {
		if err := t.run(ctx, "commit", t.dialect.Commit); err != nil {
			// The transaction cannot be resumed after a failed commit.
			t.abandon(ctx)
			t.pop()
			return err
		}
	}
	t.pop()
	return nil
}

// Rollback undoes the work of the level of tok, rolling back the
// transaction if it is the outermost. tok must be the innermost open level.
func (t *Tracker) Rollback(ctx context.Context, tok *Token) error {
	if err := t.check(tok); err != nil {
		return err
	}
	if err := t.run(ctx, "rollback", "ROLLBACK TO SAVEPOINT "+Name(tok.level)); err != nil {
		return err
	}
	if tok.level == 1 {
		err := t.run(ctx, "rollback", t.dialect.Rollback)
		t.pop()
		return err
	}
	t.pop()
	return nil
}

// Innermost returns the token of the innermost open level.
func (t *Tracker) Innermost() (*Token, error) {
	if len(t.stack) == 0 {
		return nil, failure.ErrNoTransaction
	}
	return t.stack[len(t.stack)-1], nil
}

// Unwind undoes the work done since the innermost level was opened, leaving
// the level open. With no level open the pending work of the connection is
// rolled back.
func (t *Tracker) Unwind(ctx context.Context) error {
	if len(t.stack) == 0 {
		return t.run(ctx, "rollback", t.dialect.Rollback)
	}
	return t.run(ctx, "rollback", "ROLLBACK TO SAVEPOINT "+Name(len(t.stack)))
}

// Close rolls back the outermost transaction if any level is still open.
// It never commits.
func (t *Tracker) Close(ctx context.Context) error {
	if len(t.stack) == 0 {
		return nil
	}
	t.logger.Warn("rolling back open transaction", "depth", len(t.stack))
	err := t.run(ctx, "rollback", t.dialect.Rollback)
	for _, tok := range t.stack {
		tok.setDone()
	}
	t.stack = nil
	return err
}

func (t *Tracker) check(tok *Token) error {
	if tok != nil && tok.isDone() {
		return failure.ErrTxDone
	}
	if tok == nil || len(t.stack) == 0 {
		return failure.ErrNoTransaction
	}
	if t.stack[len(t.stack)-1] != tok {
		return failure.ErrSavepointOrder
	}
	return nil
}

func (t *Tracker) pop() {
	tok := t.stack[len(t.stack)-1]
	tok.setDone()
	t.stack = t.stack[:len(t.stack)-1]
}

// abandon rolls back the transaction after a failure that left it unusable.
func (t *Tracker) abandon(ctx context.Context) {
	if err := t.exec.Exec(ctx, t.dialect.Rollback); err != nil {
		t.logger.Warn("cannot roll back transaction", "err", err)
	}
}

func (t *Tracker) run(ctx context.Context, op string, query string) error {
	t.logger.Debug("transaction control", "query", query, "depth", len(t.stack))
	if err := t.exec.Exec(ctx, query); err != nil {
		return failure.Backend(op, err)
	}
	return nil
}
