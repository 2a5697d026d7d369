// Package db archives completed harvest jobs and their facilities in SurrealDB.
// The archive is write-behind: nothing is read back into the job manager.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

// Tables owned by the archive, in wipe order.
var archiveTables = []string{"facility", "harvest_job"}

func init() {
	// WebSocket upgrades fail when ALPN settles on HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{NextProtos: []string{"http/1.1"}}
}

// Config describes how to reach and authenticate against the archive.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	// AuthLevel is "database" for namespace-scoped users; anything else signs in as root.
	AuthLevel string
}

func (c Config) auth() surrealdb.Auth {
	if c.AuthLevel == "database" {
		return surrealdb.Auth{
			Namespace: c.Namespace,
			Database:  c.Database,
			Username:  c.Username,
			Password:  c.Password,
		}
	}
	return surrealdb.Auth{Username: c.Username, Password: c.Password}
}

// rpcBase strips a trailing /rpc, which gorillaws appends itself.
func (c Config) rpcBase() string {
	return strings.TrimSuffix(strings.TrimRight(c.URL, "/"), "/rpc")
}

// Client is an archive session over a reconnecting WebSocket.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	logger logger.Logger
}

// NewClient dials the archive, signs in and selects the namespace and database.
// Dropped connections are re-established with exponential backoff.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	sdkLog := logger.New(log.With("component", "archive").Handler())

	conn := dial(cfg, sdkLog)
	sdkLog.Info("connecting to archive", "url", cfg.URL, "namespace", cfg.Namespace, "database", cfg.Database)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect archive: %w", err)
	}

	sess, err := openSession(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	sdkLog.Info("archive ready", "auth_level", cfg.AuthLevel)
	return &Client{conn: conn, db: sess, logger: sdkLog}, nil
}

func dial(cfg Config, log logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	base := cfg.rpcBase()

	conn := rews.New(func(context.Context) (*gorillaws.Connection, error) {
		return gorillaws.New(&connection.Config{
			BaseURL:     base,
			Marshaler:   codec,
			Unmarshaler: codec,
			Logger:      log,
		}), nil
	}, 5*time.Second, codec, log)

	backoff := rews.NewExponentialBackoffRetryer()
	backoff.InitialDelay = time.Second
	backoff.MaxDelay = 30 * time.Second
	backoff.Multiplier = 2
	backoff.MaxRetries = 10
	conn.Retryer = backoff
	return conn
}

func openSession(ctx context.Context, conn *rews.Connection[*gorillaws.Connection], cfg Config) (*surrealdb.DB, error) {
	sess, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("open archive session: %w", err)
	}
	if _, err := sess.SignIn(ctx, cfg.auth()); err != nil {
		return nil, fmt.Errorf("sign in to archive as %q: %w", cfg.Username, err)
	}
	if err := sess.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}
	return sess, nil
}

// Close ends the archive session.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing archive connection")
	return c.conn.Close(ctx)
}

// InitSchema applies SchemaSQL. Every statement is idempotent.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init archive schema: %w", err)
	}
	c.logger.Debug("archive schema applied")
	return nil
}

// WipeData empties the archive tables and keeps their definitions.
func (c *Client) WipeData(ctx context.Context) error {
	for _, table := range archiveTables {
		if _, err := surrealdb.Query[any](ctx, c.db, "DELETE "+table, nil); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
		c.logger.Warn("archive table wiped", "table", table)
	}
	return nil
}
