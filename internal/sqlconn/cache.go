// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlconn

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
)

// DefaultCacheSize is the number of prepared statements kept per connection
// when no size is configured.
const DefaultCacheSize = 64

// statementCache keeps the prepared statements of a connection, indexed by
// the rewritten query text. The least recently used statement is closed when
// the cache is full. Statements in use by an execution are pinned and only
// closed once the execution finishes.
//
// The mutex must be locked when accessing pinned.
type statementCache struct {
	stmts  *lru.Cache[string, *sqlx.Stmt]
	pinned map[*sqlx.Stmt]int
	// evicted holds statements dropped from the cache while pinned.
	evicted map[*sqlx.Stmt]bool
	mutex   sync.Mutex
}

// prepareSubstrate is an object that queries can be prepared on, e.g. a
// sqlx.Conn.
type prepareSubstrate interface {
	PreparexContext(ctx context.Context, query string) (*sqlx.Stmt, error)
}

func newStatementCache(size int) (*statementCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	sc := &statementCache{
		pinned:  map[*sqlx.Stmt]int{},
		evicted: map[*sqlx.Stmt]bool{},
	}
	stmts, err := lru.NewWithEvict[string, *sqlx.Stmt](size, sc.onEvict)
	if err != nil {
		return nil, err
	}
	sc.stmts = stmts
	return sc, nil
}

// onEvict is called by the LRU with the mutex held.
func (sc *statementCache) onEvict(_ string, stmt *sqlx.Stmt) {
	if sc.pinned[stmt] > 0 {
		sc.evicted[stmt] = true
		return
	}
	stmt.Close()
}

// prepare returns the statement for query, preparing it on ps if it is not
// in the cache. The statement is pinned until release is called.
func (sc *statementCache) prepare(ctx context.Context, ps prepareSubstrate, query string) (*sqlx.Stmt, error) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	stmt, ok := sc.stmts.Get(query)
	if !ok {
		var err error
		stmt, err = ps.PreparexContext(ctx, query)
		if err != nil {
			return nil, err
		}
		sc.stmts.Add(query, stmt)
	}
	sc.pinned[stmt]++
	return stmt, nil
}

// release unpins a statement returned by prepare, closing it if it was
// evicted in the meantime.
func (sc *statementCache) release(stmt *sqlx.Stmt) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.pinned[stmt]--
	if sc.pinned[stmt] > 0 {
		return nil
	}
	delete(sc.pinned, stmt)
	if sc.evicted[stmt] {
		delete(sc.evicted, stmt)
		return stmt.Close()
	}
	return nil
}

// len returns the number of cached statements.
func (sc *statementCache) len() int {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.stmts.Len()
}

// purge closes every cached statement.
func (sc *statementCache) purge() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.stmts.Purge()
}
