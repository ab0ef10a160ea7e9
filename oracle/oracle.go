// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package oracle connects sqlbind to Oracle through godror. Connections
// opened here support large object and cursor markers.
package oracle

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/godror/godror"
	"github.com/hashicorp/go-hclog"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/canonical/sqlbind"
	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/internal/failure"
	"github.com/canonical/sqlbind/internal/sqlconn"
)

// Common NLS_LANG values.
const (
	NLSLangUTF8        = "AMERICAN_AMERICA.AL32UTF8"
	NLSLangRussianUTF8 = "RUSSIAN_CIS.AL32UTF8"
	NLSLangRussian1251 = "RUSSIAN_CIS.CL8MSWIN1251"
)

var schemaRx = regexp.MustCompile(`(?i)^[a-z]+[a-z0-9_]*$`)

// Config describes an Oracle connection.
type Config struct {
	Username string
	Password string
	// ConnectString is an Easy Connect string, e.g. "db.local:1521/xe", or
	// a TNS alias.
	ConnectString string
	// Schema, if set, becomes the current schema of the session. Names
	// that are not plain identifiers are ignored with a warning.
	Schema string
	// NLSLang sets the language, territory and character set of the
	// session, in NLS_LANG form: LANGUAGE_TERRITORY.CHARSET. Any part may
	// be omitted.
	NLSLang string
}

// Params returns the godror connection parameters of cfg. The connection
// is standalone so that every statement of a Conn runs in one session.
func (cfg Config) Params() godror.ConnectionParams {
	var p godror.ConnectionParams
	p.Username = cfg.Username
	p.Password = godror.NewPassword(cfg.Password)
	p.ConnectString = cfg.ConnectString
	p.StandaloneConnection = true
	_, _, p.Charset = splitNLSLang(cfg.NLSLang)
	return p
}

// sessionStatements returns the statements run once the session is open.
func (cfg Config) sessionStatements(logger hclog.Logger) []string {
	var stmts []string
	lang, territory, _ := splitNLSLang(cfg.NLSLang)
	if lang != "" {
		stmts = append(stmts, "ALTER SESSION SET NLS_LANGUAGE = "+quote(lang))
	}
	if territory != "" {
		stmts = append(stmts, "ALTER SESSION SET NLS_TERRITORY = "+quote(territory))
	}
	switch {
	case schemaRx.MatchString(cfg.Schema):
		stmts = append(stmts, "ALTER SESSION SET CURRENT_SCHEMA = "+cfg.Schema)
	case cfg.Schema != "":
		logger.Warn("bad schema name ignored", "schema", cfg.Schema)
	}
	return stmts
}

// splitNLSLang splits an NLS_LANG value into its language, territory and
// character set.
func splitNLSLang(s string) (lang, territory, charset string) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s, charset = s[:i], s[i+1:]
	}
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		return s[:i], s[i+1:], charset
	}
	return s, "", charset
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Open connects to Oracle and returns a Conn using the Oracle dialect.
func Open(ctx context.Context, cfg Config, opts sqlbind.Config) (*sqlbind.Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	params := cfg.Params()
	db := sqlx.NewDb(sql.OpenDB(godror.NewConnector(params)), "godror")
	size := opts.StmtCacheSize
	if size <= 0 {
		size = sqlconn.DefaultCacheSize
	}
	sc, err := sqlconn.OpenDB(ctx, db, dialect.Oracle, size)
	if err != nil {
		return nil, failure.Backend("", errors.Wrapf(err, "cannot connect to %s", params.String()))
	}
	for _, stmt := range cfg.sessionStatements(logger) {
		logger.Debug("session setup", "query", stmt)
		if err := sc.Exec(ctx, stmt); err != nil {
			sc.Close()
			return nil, err
		}
	}
	opts.Dialect = dialect.Oracle
	conn, err := sqlbind.NewConn(&Conn{Conn: sc}, opts)
	if err != nil {
		sc.Close()
		return nil, err
	}
	return conn, nil
}
