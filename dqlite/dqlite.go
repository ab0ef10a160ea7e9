// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package dqlite connects sqlbind to a dqlite cluster. Queries use the
// SQLite dialect.
package dqlite

import (
	"context"
	"database/sql"
	sqldriver "database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/canonical/go-dqlite/client"
	dqlitedriver "github.com/canonical/go-dqlite/driver"
	"github.com/hashicorp/go-hclog"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/canonical/sqlbind"
	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/internal/failure"
	"github.com/canonical/sqlbind/internal/sqlconn"
)

// Config describes a dqlite database.
type Config struct {
	// Cluster holds the addresses of the known nodes, e.g. "10.0.0.1:9001".
	Cluster []string
	// Database is the name of the database.
	Database string
	// ConnectionTimeout bounds each attempt to reach the leader. If zero
	// the driver default is used.
	ConnectionTimeout time.Duration
}

func (cfg Config) validate() error {
	if len(cfg.Cluster) == 0 {
		return errors.New("no cluster nodes configured")
	}
	if cfg.Database == "" {
		return errors.New("no database name configured")
	}
	return nil
}

// nodeStore returns an in-memory store holding the cluster nodes.
func (cfg Config) nodeStore(ctx context.Context) (*client.InmemNodeStore, error) {
	infos := make([]client.NodeInfo, len(cfg.Cluster))
	for i, addr := range cfg.Cluster {
		infos[i] = client.NodeInfo{Address: strings.TrimSpace(addr)}
	}
	store := client.NewInmemNodeStore()
	if err := store.Set(ctx, infos); err != nil {
		return nil, errors.Wrap(err, "cannot set cluster nodes")
	}
	return store, nil
}

// logFunc forwards driver log lines to logger.
func logFunc(logger hclog.Logger) client.LogFunc {
	return func(l client.LogLevel, format string, a ...interface{}) {
		msg := fmt.Sprintf(format, a...)
		switch l {
		case client.LogDebug:
			logger.Debug(msg)
		case client.LogInfo:
			logger.Info(msg)
		case client.LogWarn:
			logger.Warn(msg)
		default:
			logger.Error(msg)
		}
	}
}

// connector opens connections to one database of the cluster.
type connector struct {
	drv      *dqlitedriver.Driver
	database string
}

func (c connector) Connect(ctx context.Context) (sqldriver.Conn, error) {
	return c.drv.Open(c.database)
}

func (c connector) Driver() sqldriver.Driver {
	return c.drv
}

func newConnector(ctx context.Context, cfg Config, logger hclog.Logger) (connector, error) {
	if err := cfg.validate(); err != nil {
		return connector{}, failure.Contract("", err)
	}
	store, err := cfg.nodeStore(ctx)
	if err != nil {
		return connector{}, err
	}
	opts := []dqlitedriver.Option{dqlitedriver.WithLogFunc(logFunc(logger.Named("dqlite")))}
	if cfg.ConnectionTimeout > 0 {
		opts = append(opts, dqlitedriver.WithConnectionTimeout(cfg.ConnectionTimeout))
	}
	drv, err := dqlitedriver.New(store, opts...)
	if err != nil {
		return connector{}, errors.Wrap(err, "cannot create dqlite driver")
	}
	return connector{drv: drv, database: cfg.Database}, nil
}

// Open connects to the leader of the cluster and returns a Conn using the
// SQLite dialect.
func Open(ctx context.Context, cfg Config, opts sqlbind.Config) (*sqlbind.Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	conn, err := newConnector(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	size := opts.StmtCacheSize
	if size <= 0 {
		size = sqlconn.DefaultCacheSize
	}
	db := sqlx.NewDb(sql.OpenDB(conn), "dqlite")
	sc, err := sqlconn.OpenDB(ctx, db, dialect.SQLite, size)
	if err != nil {
		return nil, failure.Backend("", errors.Wrapf(err, "cannot connect to %s on %s", cfg.Database, strings.Join(cfg.Cluster, ",")))
	}
	opts.Dialect = dialect.SQLite
	c, err := sqlbind.NewConn(sc, opts)
	if err != nil {
		sc.Close()
		return nil, err
	}
	return c, nil
}
