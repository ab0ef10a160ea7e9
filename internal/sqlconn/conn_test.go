// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlconn

import (
	"context"
	"database/sql"
	"io"
	"regexp"
	"testing"

	dqlitedriver "github.com/canonical/go-dqlite/driver"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	. "gopkg.in/check.v1"
	sqlmock "gopkg.in/DATA-DOG/go-sqlmock.v1"

	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/driver"
	"github.com/canonical/sqlbind/internal/failure"
)

// Hook up gocheck into the "go test" runner.
func TestSQLConn(t *testing.T) { TestingT(t) }

type ConnSuite struct{}

var _ = Suite(&ConnSuite{})

func (s *ConnSuite) openConn(c *C, cacheSize int) *Conn {
	dbName := c.TestName()
	conn, err := Open(context.Background(), "sqlite3_tracked", trackedDSN(dbName), dialect.SQLite, cacheSize)
	c.Assert(err, IsNil)
	return conn
}

func (s *ConnSuite) run(c *C, conn *Conn, query string, args ...any) {
	ctx := context.Background()
	st, err := conn.Prepare(ctx, query)
	c.Assert(err, IsNil)
	for i, arg := range args {
		c.Assert(st.Bind(driver.Param{Position: i + 1, Value: arg}), IsNil)
	}
	_, err = st.Exec(ctx)
	c.Assert(err, IsNil)
	c.Assert(st.Close(), IsNil)
}

func (s *ConnSuite) TestStatementReuse(c *C) {
	conn := s.openConn(c, 2)
	s.run(c, conn, "CREATE TABLE t (n INTEGER)")
	s.run(c, conn, "INSERT INTO t VALUES (?)", 1)
	s.run(c, conn, "INSERT INTO t VALUES (?)", 2)

	opened, closed := stmtCounts(c.TestName())
	c.Check(opened, Equals, 2)
	c.Check(closed, Equals, 0)
	c.Check(conn.CachedStatements(), Equals, 2)

	// A third statement evicts the least recently used one.
	s.run(c, conn, "DELETE FROM t")
	opened, closed = stmtCounts(c.TestName())
	c.Check(opened, Equals, 3)
	c.Check(closed, Equals, 1)
	c.Check(conn.CachedStatements(), Equals, 2)

	c.Assert(conn.Close(), IsNil)
	opened, closed = stmtCounts(c.TestName())
	c.Check(closed, Equals, opened)
}

func (s *ConnSuite) TestPinnedStatementOutlivesEviction(c *C) {
	conn := s.openConn(c, 1)
	ctx := context.Background()
	first, err := conn.Prepare(ctx, "SELECT 1")
	c.Assert(err, IsNil)

	s.run(c, conn, "SELECT 2")
	_, closed := stmtCounts(c.TestName())
	c.Check(closed, Equals, 0)

	rows, err := first.Query(ctx)
	c.Assert(err, IsNil)
	c.Assert(rows.Close(), IsNil)
	c.Assert(first.Close(), IsNil)
	_, closed = stmtCounts(c.TestName())
	c.Check(closed, Equals, 1)

	// Closing twice does not release twice.
	c.Assert(first.Close(), IsNil)
	c.Assert(conn.Close(), IsNil)
	opened, closed := stmtCounts(c.TestName())
	c.Check(closed, Equals, opened)
}

func (s *ConnSuite) TestRows(c *C) {
	conn := s.openConn(c, 0)
	defer conn.Close()
	s.run(c, conn, "CREATE TABLE people (id INTEGER, name TEXT, photo BLOB)")
	s.run(c, conn, "INSERT INTO people VALUES (?, ?, ?)", int64(1), "Fred", []byte{1, 2})

	ctx := context.Background()
	st, err := conn.Prepare(ctx, "SELECT id, name, photo FROM people")
	c.Assert(err, IsNil)
	defer st.Close()
	rows, err := st.Query(ctx)
	c.Assert(err, IsNil)
	defer rows.Close()

	c.Check(rows.Columns(), DeepEquals, []string{"id", "name", "photo"})
	c.Check(rows.ColumnType(0), Equals, "INTEGER")
	c.Check(rows.ColumnType(1), Equals, "TEXT")
	c.Check(rows.ColumnType(2), Equals, "BLOB")

	dest := make([]any, 3)
	c.Assert(rows.Next(dest), IsNil)
	c.Check(dest, DeepEquals, []any{int64(1), "Fred", []byte{1, 2}})
	c.Check(rows.Next(dest), Equals, io.EOF)
}

func (s *ConnSuite) TestErrorCodes(c *C) {
	conn := s.openConn(c, 0)
	defer conn.Close()

	err := conn.Exec(context.Background(), "BOGUS")
	c.Check(err, ErrorMatches, `exec: near "BOGUS": syntax error \(code 1\)`)
	c.Check(failure.KindOf(err), Equals, failure.BackendFailure)

	_, err = conn.Prepare(context.Background(), "SELECT * FROM missing")
	c.Check(err, ErrorMatches, `prepare: no such table: missing \(code 1\)`)
}

func (s *ConnSuite) TestClassifyDriverErrors(c *C) {
	tests := []struct {
		err  error
		code string
	}{
		{&pq.Error{Code: "42P01", Message: "relation \"missing\" does not exist"}, "42P01"},
		{&mysql.MySQLError{Number: 1146, Message: "Table 'db.missing' doesn't exist"}, "1146"},
		{dqlitedriver.Error{Code: 5, Message: "database is locked"}, "5"},
		{io.ErrUnexpectedEOF, ""},
	}
	for _, test := range tests {
		err := Classify("execute", test.err)
		var fe *failure.Error
		c.Assert(errors.As(err, &fe), Equals, true)
		c.Check(fe.Code, Equals, test.code)
		c.Check(fe.Kind, Equals, failure.BackendFailure)
		c.Check(errors.Cause(err), Equals, test.err)
	}
}

func (s *ConnSuite) TestPostgresStatements(c *C) {
	db, mock, err := sqlmock.New()
	c.Assert(err, IsNil)
	defer db.Close()

	mock.ExpectPrepare(regexp.QuoteMeta("SELECT * FROM t WHERE a = $1 AND b IN($2, $3)")).
		ExpectQuery().
		WithArgs(int64(5), "x", "y").
		WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow(int64(5)))

	ctx := context.Background()
	conn, err := New(ctx, sqlx.NewDb(db, "postgres"), dialect.Postgres, 0)
	c.Assert(err, IsNil)

	st, err := conn.Prepare(ctx, "SELECT * FROM t WHERE a = $1 AND b IN($2, $3)")
	c.Assert(err, IsNil)
	for i, v := range []any{int64(5), "x", "y"} {
		c.Assert(st.Bind(driver.Param{Position: i + 1, Value: v}), IsNil)
	}
	rows, err := st.Query(ctx)
	c.Assert(err, IsNil)
	dest := make([]any, 1)
	c.Assert(rows.Next(dest), IsNil)
	c.Check(dest[0], Equals, int64(5))
	c.Assert(rows.Close(), IsNil)
	c.Assert(st.Close(), IsNil)
	c.Assert(conn.Close(), IsNil)

	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *ConnSuite) TestOutParameters(c *C) {
	st := &stmt{conn: &Conn{dialect: dialect.Oracle}, outs: map[int]any{}}
	params := []driver.Param{
		{Position: 1, Name: "n", Role: driver.RoleOut, Type: driver.Integer},
		{Position: 2, Name: "f", Role: driver.RoleOut, Type: driver.Float},
		{Position: 3, Name: "msg", Role: driver.RoleOut, Type: driver.Text, Size: 100},
		{Position: 4, Name: "empty", Role: driver.RoleOut, Type: driver.Text},
		{Position: 5, Name: "missing", Role: driver.RoleOut, Type: driver.Integer},
	}
	for _, p := range params {
		c.Assert(st.Bind(p), IsNil)
	}
	c.Assert(st.args, HasLen, len(params))
	named, ok := st.args[2].(sql.NamedArg)
	c.Assert(ok, Equals, true)
	c.Check(named.Name, Equals, "msg")
	out, ok := named.Value.(sql.Out)
	c.Assert(ok, Equals, true)
	c.Check(out.Dest, Equals, st.outs[3])

	// Fill the destinations the way the driver does after execution.
	for pos, v := range map[int]any{1: int64(7), 2: 1.5, 3: "hello", 4: "", 5: nil} {
		c.Assert(st.outs[pos].(sql.Scanner).Scan(v), IsNil)
	}

	expected := []any{int64(7), 1.5, "hello", "", nil}
	for i, p := range params {
		v, err := st.Out(p)
		c.Assert(err, IsNil)
		c.Check(v, Equals, expected[i], Commentf("parameter %s", p.Name))
	}

	// A NULL text value is nil, not an empty string.
	c.Assert(st.outs[3].(sql.Scanner).Scan(nil), IsNil)
	v, err := st.Out(params[2])
	c.Assert(err, IsNil)
	c.Check(v, IsNil)

	_, err = st.Out(driver.Param{Position: 9})
	c.Check(err, ErrorMatches, "parameter 9 is not an output parameter")
}
