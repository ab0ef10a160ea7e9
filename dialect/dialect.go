// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package dialect describes the placeholder syntax, type support and
// transaction statements of each supported backend.
package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/canonical/sqlbind/driver"
)

// Style selects how markers are written in query templates.
type Style int

const (
	// Positional templates use "?" markers.
	Positional Style = iota
	// Named templates use role-prefixed markers such as ":id", "&out" and
	// "@cur".
	Named
)

// Placeholder selects how markers are written in the rewritten query.
type Placeholder int

const (
	Question Placeholder = iota
	Dollar
	Colon
)

// Dialect holds the backend specific rules used when rewriting and running
// a query.
type Dialect struct {
	Name        string
	Style       Style
	Placeholder Placeholder
	// NativeArrays is true if sequence values can be bound as array
	// literals outside of IN lists.
	NativeArrays bool
	// JSON is true if structured values can be bound as JSON.
	JSON bool
	// StrictArity requires the number of values to equal the number of
	// markers. Otherwise extra values are ignored.
	StrictArity bool
	// WrapBlocks wraps ';' terminated text in an anonymous block.
	WrapBlocks bool
	// CommitAfterCall commits after a successful procedure call made
	// outside of a transaction.
	CommitAfterCall bool
	// Begin, Commit and Rollback are the transaction control statements.
	// An empty Begin means transactions start implicitly.
	Begin    string
	Commit   string
	Rollback string
	// ReleaseSavepoints is false for backends without RELEASE SAVEPOINT.
	ReleaseSavepoints bool
}

var Postgres = &Dialect{
	Name:              "postgres",
	Style:             Positional,
	Placeholder:       Dollar,
	NativeArrays:      true,
	JSON:              true,
	StrictArity:       true,
	Begin:             "BEGIN",
	Commit:            "COMMIT",
	Rollback:          "ROLLBACK",
	ReleaseSavepoints: true,
}

var SQLite = &Dialect{
	Name:              "sqlite",
	Style:             Positional,
	Placeholder:       Question,
	JSON:              true,
	Begin:             "BEGIN",
	Commit:            "COMMIT",
	Rollback:          "ROLLBACK",
	ReleaseSavepoints: true,
}

var MySQL = &Dialect{
	Name:              "mysql",
	Style:             Positional,
	Placeholder:       Question,
	JSON:              true,
	Begin:             "START TRANSACTION",
	Commit:            "COMMIT",
	Rollback:          "ROLLBACK",
	ReleaseSavepoints: true,
}

var Oracle = &Dialect{
	Name:            "oracle",
	Style:           Named,
	Placeholder:     Colon,
	WrapBlocks:      true,
	CommitAfterCall: true,
	Commit:          "COMMIT",
	Rollback:        "ROLLBACK",
}

var dialects = map[string]*Dialect{
	"postgres": Postgres,
	"pgsql":    Postgres,
	"sqlite":   SQLite,
	"sqlite3":  SQLite,
	"dqlite":   SQLite,
	"mysql":    MySQL,
	"mysqli":   MySQL,
	"oracle":   Oracle,
	"godror":   Oracle,
}

// ByName returns the dialect registered under name. Driver names accepted
// by database/sql are recognised too.
func ByName(name string) (*Dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
	return d, nil
}

// PlaceholderText returns the placeholder for the parameter at the 1-based
// position n with the given name.
func (d *Dialect) PlaceholderText(n int, name string) string {
	switch d.Placeholder {
	case Dollar:
		return "$" + strconv.Itoa(n)
	case Colon:
		return ":" + name
	}
	return "?"
}

// Numbered is true if placeholders carry their parameter position.
func (d *Dialect) Numbered() bool {
	return d.Placeholder == Dollar
}

// ColumnType maps a backend column type name to a wire type. Types that
// need no coercion map to driver.Null.
func (d *Dialect) ColumnType(name string) driver.Type {
	name = strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	if d.NativeArrays && strings.HasPrefix(name, "_") {
		return driver.Array
	}
	switch name {
	case "BOOL", "BOOLEAN":
		return driver.Bool
	case "INT", "INT2", "INT4", "INT8", "INTEGER", "SMALLINT", "BIGINT",
		"TINYINT", "MEDIUMINT", "SERIAL", "BIGSERIAL", "UNSIGNED BIGINT",
		"UNSIGNED INT", "UNSIGNED TINYINT", "UNSIGNED SMALLINT":
		return driver.Integer
	case "FLOAT", "FLOAT4", "FLOAT8", "REAL", "DOUBLE", "DOUBLE PRECISION":
		return driver.Float
	case "JSON", "JSONB":
		return driver.JSON
	case "BYTEA", "BLOB", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB", "BINARY", "VARBINARY", "RAW":
		return driver.Bytes
	}
	return driver.Null
}

// ElemType returns the type name of the elements of an array column type.
func ElemType(name string) string {
	return strings.TrimPrefix(strings.ToUpper(name), "_")
}
