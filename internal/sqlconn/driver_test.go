// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper sql.Driver over the SQLite driver which
// counts the prepared statements opened and closed on each database. We use
// the counts to check for statement leaks.

// openedStmts and closedStmts are indexed by the dbName DSN attribute. The
// stmtRegistryMutex must be held when accessing them.
var openedStmts = map[string]int{}
var closedStmts = map[string]int{}
var stmtRegistryMutex sync.Mutex

const dbNameTag = "dbName"

type trackingDriver struct {
	driver.Driver
}

type trackingConn struct {
	dbName string
	*sqlite3.SQLiteConn
}

type trackingStmt struct {
	dbName string
	*sqlite3.SQLiteStmt
}

func (s *trackingStmt) Close() error {
	stmtRegistryMutex.Lock()
	closedStmts[s.dbName]++
	stmtRegistryMutex.Unlock()
	return s.SQLiteStmt.Close()
}

func (c *trackingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	s, err := c.SQLiteConn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sm, ok := s.(*sqlite3.SQLiteStmt)
	if !ok {
		panic(fmt.Sprintf("internal error: base driver is not SQLite, got %T", s))
	}
	stmtRegistryMutex.Lock()
	openedStmts[c.dbName]++
	stmtRegistryMutex.Unlock()
	return &trackingStmt{SQLiteStmt: sm, dbName: c.dbName}, nil
}

func (c *trackingConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// Open expects the DSN to contain the database name in the dbName
// attribute.
func (d *trackingDriver) Open(name string) (driver.Conn, error) {
	_, rawQuery, _ := strings.Cut(name, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, err
	}
	dbName := params.Get(dbNameTag)
	if dbName == "" {
		panic("internal error: dbName is not found in the db DSN")
	}
	baseConn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	sc, ok := baseConn.(*sqlite3.SQLiteConn)
	if !ok {
		panic("internal error: base driver is not SQLite")
	}
	return &trackingConn{SQLiteConn: sc, dbName: dbName}, nil
}

// stmtCounts returns the number of statements opened and closed on a
// database.
func stmtCounts(dbName string) (opened int, closed int) {
	stmtRegistryMutex.Lock()
	defer stmtRegistryMutex.Unlock()
	return openedStmts[dbName], closedStmts[dbName]
}

func trackedDSN(dbName string) string {
	return fmt.Sprintf("file:%s?mode=memory&%s=%s", dbName, dbNameTag, dbName)
}

func init() {
	sql.Register("sqlite3_tracked", &trackingDriver{
		&sqlite3.SQLiteDriver{},
	})
}
