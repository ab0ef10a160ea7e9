// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlbind

import (
	"net"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-hclog"

	"github.com/canonical/sqlbind/dialect"
)

// Config holds the options of a Conn.
type Config struct {
	// Dialect selects the marker syntax and type support of the backend.
	// If nil, Open derives it from the driver name.
	Dialect *dialect.Dialect
	// RowShape is the initial shape of result rows.
	RowShape RowShape
	// Output, if set, is applied to every string in results.
	Output OutputFunc
	// Logger receives debug output and warnings. If nil nothing is logged.
	Logger hclog.Logger
	// StmtCacheSize bounds the number of prepared statements and parsed
	// queries kept per connection. If zero a default is used.
	StmtCacheSize int
}

func (cfg Config) logger() hclog.Logger {
	if cfg.Logger == nil {
		return hclog.NewNullLogger()
	}
	return cfg.Logger
}

// PostgresDSN returns a libpq connection string. hostPort may omit the port.
func PostgresDSN(hostPort string, dbname string, user string, password string) string {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		host, port = hostPort, ""
	}
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+quoteConnValue(value))
		}
	}
	add("host", host)
	add("port", port)
	add("dbname", dbname)
	add("user", user)
	add("password", password)
	return strings.Join(parts, " ")
}

// quoteConnValue quotes a libpq connection string value if needed.
func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// MySQLDSN returns a go-sql-driver/mysql data source name for a TCP
// connection.
func MySQLDSN(addr string, dbname string, user string, password string, params map[string]string) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = dbname
	cfg.User = user
	cfg.Passwd = password
	cfg.Params = params
	return cfg.FormatDSN()
}

var passwordRx = regexp.MustCompile(`password=('(?:[^'\\]|\\.)*'|\S+)`)

// maskPassword hides the password of a data source name so that it can be
// included in errors and logs.
func maskPassword(dsn string) string {
	if passwordRx.MatchString(dsn) {
		return passwordRx.ReplaceAllString(dsn, "password=***")
	}
	if cfg, err := mysql.ParseDSN(dsn); err == nil && cfg.Passwd != "" {
		cfg.Passwd = "***"
		return cfg.FormatDSN()
	}
	return dsn
}
