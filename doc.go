/*
Sqlbind is a portable query layer for SQL databases that binds Go values to markers written directly in SQL queries.

The same query text and the same arguments can be sent to PostgreSQL, SQLite, MySQL and Oracle.
Sqlbind rewrites the markers into the placeholders of the backend, expands sequences into IN lists, encodes maps and structs as JSON, and normalises result rows so that integers, floats, booleans, JSON documents and arrays come back as Go values regardless of how the driver returned them.
It also provides nested transactions on top of savepoints, and procedure calls with OUT parameters, large objects and cursors.

# Basics

A Conn is opened with the name of a database/sql driver:

	conn, err := sqlbind.Open(ctx, "sqlite3", ":memory:", sqlbind.Config{})

Queries take one argument per marker, in order of appearance:

	rows, err := conn.QueryRows(ctx, "SELECT name FROM person WHERE team = ? AND id IN(?)", "engineering", []int{1, 2, 3})

The IN list marker is rewritten to one placeholder per element.
An empty sequence binds a single NULL, so the query matches nothing instead of failing.

# Markers

Backends with positional parameters use the question mark:

	SELECT * FROM person WHERE id = ?

Backends with named parameters, such as Oracle, use named markers:

 1. :name
    - An IN parameter.

 2. &name
    - An OUT parameter. Its argument is ignored.

 3. @name
    - A CURSOR parameter. Its rows are returned as []Row.

 4. :[blob]name, :[clob]name, &[blob]name, &[clob]name
    - A parameter held in a large object.

 5. &[4000]name
    - An OUT parameter with an explicit buffer size.

Markers are never recognised inside string literals, quoted identifiers or comments.
Oracle text ending in a semicolon is wrapped in an anonymous BEGIN ... END; block, so a procedure call can be written as:

	outputs, err := conn.Call(ctx, "pkg.proc(:id, &status, @rows);", 42, nil, nil)

# Values

Go values are bound according to their kind.
Booleans, integers, floats, strings and []byte are bound natively.
Sequences are bound as native arrays on PostgreSQL and as JSON elsewhere, unless the marker is the only content of an IN list.
Maps and structs are encoded as JSON, using the `db` tags of struct fields.

# Transactions

Begin opens a transaction level. The first level starts a database transaction and every level, including the first, is a savepoint:

	tx, err := conn.Begin(ctx)
	...
	err = tx.Commit(ctx)

Levels must be ended innermost first. Close rolls back any level still open and never commits.

# Errors

Every error is a *Error with a Kind.
A ContractViolation is a mistake of the caller, detected before anything is sent to the backend.
A BackendFailure carries the native error code of the backend when it has one.
*/
package sqlbind
