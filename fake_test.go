// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlbind_test

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlbind"
	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/driver"
)

// fakeConn is an in-memory driver.Conn that records every call made to it.
type fakeConn struct {
	log      []string
	failExec map[string]error
	outs     map[string]any
	lobs     map[int][]byte
	cursor   [][]any
	acquired int
	failAt   int
}

func (f *fakeConn) record(format string, args ...any) {
	f.log = append(f.log, fmt.Sprintf(format, args...))
}

func (f *fakeConn) Prepare(ctx context.Context, query string) (driver.Stmt, error) {
	f.record("prepare %s", query)
	return &fakeStmt{conn: f}, nil
}

func (f *fakeConn) Exec(ctx context.Context, query string) error {
	f.record("%s", query)
	return f.failExec[query]
}

func (f *fakeConn) Close() error {
	f.record("close")
	return nil
}

func (f *fakeConn) acquire(kind string) (int, error) {
	f.acquired++
	if f.acquired == f.failAt {
		return 0, fmt.Errorf("no more %s handles", kind)
	}
	f.record("new %s %d", kind, f.acquired)
	return f.acquired, nil
}

func (f *fakeConn) NewLOB(ctx context.Context, t driver.Type) (driver.LOB, error) {
	id, err := f.acquire("lob")
	if err != nil {
		return nil, err
	}
	return &fakeLOB{conn: f, id: id}, nil
}

func (f *fakeConn) NewCursor(ctx context.Context) (driver.CursorHandle, error) {
	id, err := f.acquire("cursor")
	if err != nil {
		return nil, err
	}
	return &fakeCursor{conn: f, id: id}, nil
}

type fakeStmt struct {
	conn *fakeConn
}

func (s *fakeStmt) Bind(p driver.Param) error {
	s.conn.record("bind %s", p.Name)
	return nil
}

func (s *fakeStmt) Exec(ctx context.Context) (driver.Result, error) {
	s.conn.record("exec")
	if err := s.conn.failExec["exec"]; err != nil {
		return nil, err
	}
	return fakeResult(1), nil
}

func (s *fakeStmt) Query(ctx context.Context) (driver.Rows, error) {
	s.conn.record("query")
	return &fakeRows{values: s.conn.cursor}, nil
}

func (s *fakeStmt) Out(p driver.Param) (any, error) {
	return s.conn.outs[p.Name], nil
}

func (s *fakeStmt) Close() error {
	s.conn.record("close stmt")
	return nil
}

type fakeResult int64

func (r fakeResult) RowsAffected() (int64, error) {
	return int64(r), nil
}

type fakeRows struct {
	values [][]any
	next   int
}

func (r *fakeRows) Columns() []string { return []string{"id", "name"} }

func (r *fakeRows) ColumnType(i int) string { return []string{"NUMBER", "VARCHAR2"}[i] }

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Next(dest []any) error {
	if r.next == len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}

type fakeLOB struct {
	conn *fakeConn
	id   int
}

func (l *fakeLOB) BindValue() any { return l.id }

func (l *fakeLOB) Stage(data []byte) error { return nil }

func (l *fakeLOB) Flush(ctx context.Context) error {
	l.conn.record("flush lob %d", l.id)
	return nil
}

func (l *fakeLOB) Load(ctx context.Context) ([]byte, bool, error) {
	data, ok := l.conn.lobs[l.id]
	return data, !ok, nil
}

func (l *fakeLOB) Free() error {
	l.conn.record("free lob %d", l.id)
	return nil
}

type fakeCursor struct {
	conn *fakeConn
	id   int
}

func (cur *fakeCursor) BindValue() any { return cur.id }

func (cur *fakeCursor) Open(ctx context.Context) (driver.Rows, error) {
	return &fakeRows{values: cur.conn.cursor}, nil
}

func (cur *fakeCursor) Free() error {
	cur.conn.record("free cursor %d", cur.id)
	return nil
}

type FakeSuite struct{}

var _ = Suite(&FakeSuite{})

func newConn(c *C, fake *fakeConn, d *dialect.Dialect) *sqlbind.Conn {
	conn, err := sqlbind.NewConn(fake, sqlbind.Config{Dialect: d})
	c.Assert(err, IsNil)
	return conn
}

func (s *FakeSuite) TestArityIsCheckedBeforeTheBackend(c *C) {
	fake := &fakeConn{}
	conn := newConn(c, fake, dialect.Postgres)
	ctx := context.Background()

	err := conn.Execute(ctx, "UPDATE t SET a = ? WHERE b = ?", 1)
	c.Check(err, ErrorMatches, `insufficient arguments for query .*`)
	c.Check(sqlbind.IsContractViolation(err), Equals, true)

	err = conn.Execute(ctx, "UPDATE t SET a = ?", 1, 2)
	c.Check(err, ErrorMatches, `too many arguments for query \[UPDATE t SET a = \?\]: expected 1, got 2`)

	_, err = conn.Call(ctx, "SELECT f(?, ?)")
	c.Check(sqlbind.IsContractViolation(err), Equals, true)

	c.Check(fake.log, HasLen, 0)
}

func (s *FakeSuite) TestRewrittenQueryReachesTheDriver(c *C) {
	fake := &fakeConn{}
	conn := newConn(c, fake, dialect.Postgres)
	err := conn.Execute(context.Background(), "SELECT * FROM t WHERE a = ? AND b IN(?)", 5, []int{1, 2, 3})
	c.Assert(err, IsNil)
	c.Check(fake.log, DeepEquals, []string{
		"prepare SELECT * FROM t WHERE a = $1 AND b IN($2, $3, $4)",
		"bind ", "bind ", "bind ", "bind ",
		"exec",
		"close stmt",
	})
	c.Check(conn.AffectedRows(), Equals, int64(1))
}

func (s *FakeSuite) TestNestedTransactionStatements(c *C) {
	fake := &fakeConn{}
	conn := newConn(c, fake, dialect.Postgres)
	ctx := context.Background()

	_, err := conn.Begin(ctx)
	c.Assert(err, IsNil)
	_, err = conn.Begin(ctx)
	c.Assert(err, IsNil)
	c.Check(conn.Depth(), Equals, 2)
	c.Assert(conn.Commit(ctx), IsNil)
	c.Assert(conn.Commit(ctx), IsNil)

	c.Check(fake.log, DeepEquals, []string{
		"BEGIN",
		"SAVEPOINT level_1",
		"SAVEPOINT level_2",
		"RELEASE SAVEPOINT level_2",
		"RELEASE SAVEPOINT level_1",
		"COMMIT",
	})
	c.Check(conn.Depth(), Equals, 0)
}

func (s *FakeSuite) TestCloseRollsBackOpenTransaction(c *C) {
	fake := &fakeConn{}
	conn := newConn(c, fake, dialect.MySQL)
	ctx := context.Background()

	_, err := conn.Begin(ctx)
	c.Assert(err, IsNil)
	c.Assert(conn.Close(), IsNil)
	c.Check(fake.log, DeepEquals, []string{
		"START TRANSACTION",
		"SAVEPOINT level_1",
		"ROLLBACK",
		"close",
	})
}

func (s *FakeSuite) TestCallOutputs(c *C) {
	fake := &fakeConn{
		outs:   map[string]any{"msg": "<ok>"},
		lobs:   map[int][]byte{2: []byte("clob text")},
		cursor: [][]any{{"1", "Fred"}, {"2", "Mary"}},
	}
	conn := newConn(c, fake, dialect.Oracle)
	conn.SetOutputFunc(sqlbind.HTMLEscape)
	outputs, err := conn.Call(context.Background(), "pkg.p(:id, &msg, @cur, &[clob]doc, &[blob]img);", 1, nil, nil, nil, nil)
	c.Assert(err, IsNil)

	c.Check(outputs["msg"], Equals, "&lt;ok&gt;")
	c.Check(outputs["doc"], Equals, "clob text")
	img, ok := outputs["img"]
	c.Check(ok, Equals, true)
	c.Check(img, IsNil)
	_, ok = outputs["id"]
	c.Check(ok, Equals, false)

	rows, ok := outputs["cur"].([]sqlbind.Row)
	c.Assert(ok, Equals, true)
	c.Assert(rows, HasLen, 2)
	c.Check(rows[1].Values, DeepEquals, []any{"2", "Mary"})

	c.Check(fake.log[0], Equals, "prepare BEGIN pkg.p(:id, :msg, :cur, :doc, :img); END;")
	c.Check(strings.Join(fake.log[len(fake.log)-5:], "\n"), Equals, strings.Join([]string{
		"free cursor 1",
		"free lob 2",
		"free lob 3",
		"close stmt",
		"COMMIT",
	}, "\n"))
}

func (s *FakeSuite) TestCallReleasesResourcesOnPartialFailure(c *C) {
	fake := &fakeConn{failAt: 3}
	conn := newConn(c, fake, dialect.Oracle)
	_, err := conn.Call(context.Background(), "p(&[clob]a, &[blob]b, &[clob]c, @d, &[blob]e);", nil, nil, nil, nil, nil)
	c.Assert(err, ErrorMatches, "allocate OUT CLOB parameter c: no more lob handles")

	var sqlbindErr *sqlbind.Error
	c.Assert(errors.As(err, &sqlbindErr), Equals, true)
	c.Check(sqlbindErr.Kind, Equals, sqlbind.ResourceFailure)
	c.Check(sqlbindErr.Query, Equals, "BEGIN p(:a, :b, :c, :d, :e); END;")
	c.Check(sqlbind.IsBackendFailure(err), Equals, true)

	c.Check(fake.log, DeepEquals, []string{
		"prepare BEGIN p(:a, :b, :c, :d, :e); END;",
		"new lob 1", "bind a",
		"new lob 2", "bind b",
		"free lob 2", "free lob 1",
		"close stmt",
		"ROLLBACK",
	})
	c.Check(fake.acquired, Equals, 3)
}

func (s *FakeSuite) TestFailedCallInTransactionRollsBackToSavepoint(c *C) {
	fake := &fakeConn{failExec: map[string]error{"exec": fmt.Errorf("ORA-06550: boom")}}
	conn := newConn(c, fake, dialect.Oracle)
	ctx := context.Background()

	tx, err := conn.Begin(ctx)
	c.Assert(err, IsNil)
	_, err = conn.Call(ctx, "p(:a);", 1)
	c.Check(err, ErrorMatches, "execute: ORA-06550: boom")
	c.Check(sqlbind.IsBackendFailure(err), Equals, true)
	var sqlbindErr *sqlbind.Error
	c.Assert(errors.As(err, &sqlbindErr), Equals, true)
	c.Check(sqlbindErr.Query, Equals, "BEGIN p(:a); END;")
	c.Check(sqlbindErr.Op, Equals, "execute")
	c.Check(conn.Depth(), Equals, 1)
	c.Check(fake.log[len(fake.log)-1], Equals, "ROLLBACK TO SAVEPOINT level_1")

	// No commit is issued inside a transaction.
	delete(fake.failExec, "exec")
	_, err = conn.Call(ctx, "p(:a);", 1)
	c.Assert(err, IsNil)
	c.Check(fake.log[len(fake.log)-1], Equals, "close stmt")
	c.Assert(tx.Commit(ctx), IsNil)
	c.Check(fake.log[len(fake.log)-1], Equals, "COMMIT")
}

func (s *FakeSuite) TestExecuteRejectsOutputs(c *C) {
	fake := &fakeConn{}
	conn := newConn(c, fake, dialect.Oracle)
	err := conn.Execute(context.Background(), "p(&out);", nil)
	c.Check(err, ErrorMatches, `query has output parameters, use Call: p\(&out\);`)
	_, err = conn.QueryRows(context.Background(), "SELECT * FROM t WHERE a = :a AND b = &b", 1, nil)
	c.Check(sqlbind.IsContractViolation(err), Equals, true)
	c.Check(fake.log, HasLen, 0)
}

func (s *FakeSuite) TestNoDialect(c *C) {
	_, err := sqlbind.NewConn(&fakeConn{}, sqlbind.Config{})
	c.Check(err, ErrorMatches, "no dialect configured")
}
