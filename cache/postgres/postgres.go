// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package postgres provides a cache.Cache stored in a PostgreSQL table
// named httpq_cache_entries, which Initialize creates if needed.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/gogama/httpq/cache"
)

// DriverName is the database/sql driver registered by lib/pq.
const DriverName = "postgres"

// ErrPingFailed is returned by Initialize if the database is not
// reachable.
var ErrPingFailed = errors.New("httpq/cache/postgres: ping failed")

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed fetch_entry.sql
	queryFetchEntry string
	//go:embed upsert_entry.sql
	queryUpsertEntry string
	//go:embed invalidate_entry.sql
	queryInvalidateEntry string
	//go:embed delete_entry.sql
	queryDeleteEntry string
	//go:embed delete_all.sql
	queryDeleteAll string
	//go:embed delete_expired.sql
	queryDeleteExpired string
)

// Config configures a Cache.
type Config struct {
	// PurgeInterval enables a background task, started by Initialize,
	// which deletes entries past their hard expiry at this interval.
	// Zero disables the task.
	PurgeInterval time.Duration
	// Logger receives diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// Cache is a cache.Cache backed by PostgreSQL.
type Cache struct {
	db            *sql.DB
	purgeInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// Open opens a lib/pq connection pool for dsn. The pool is not
// contacted until the cache is initialized.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open(DriverName, dsn)
}

// New returns a cache using db.
func New(db *sql.DB, config Config) (*Cache, error) {
	if db == nil {
		return nil, errors.New("httpq/cache/postgres: nil database")
	}
	if config.PurgeInterval < 0 {
		return nil, errors.New("httpq/cache/postgres: negative purge interval")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		db:            db,
		purgeInterval: config.PurgeInterval,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Initialize checks the connection and creates the table. If a purge
// interval is configured, it starts the purge task, which runs until
// ctx is done.
func (c *Cache) Initialize(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.Join(ErrPingFailed, err)
	}
	if _, err := c.db.ExecContext(ctx, queryCreateTable); err != nil {
		return fmt.Errorf("httpq/cache/postgres: create table: %w", err)
	}
	if c.purgeInterval > 0 {
		go c.purgeTask(ctx)
	}
	return nil
}

// Get returns the entry for key.
func (c *Cache) Get(ctx context.Context, key string) (*cache.Entry, error) {
	var (
		b            []byte
		softTTL, ttl time.Time
	)
	err := c.db.QueryRowContext(ctx, queryFetchEntry, key).Scan(&b, &softTTL, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	e, err := cache.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	// Invalidation only touches the columns.
	e.SoftTTL = softTTL.UTC()
	e.TTL = ttl.UTC()
	return e, nil
}

// Put stores e under key.
func (c *Cache) Put(ctx context.Context, key string, e *cache.Entry) error {
	if e == nil {
		return errors.New("httpq/cache/postgres: nil entry")
	}
	b, err := cache.Marshal(e)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, queryUpsertEntry, key, b, e.SoftTTL.UTC(), e.TTL.UTC(), c.now().UTC())
	return err
}

// Invalidate clears the soft expiry, and the hard expiry if fullExpire
// is true, of the entry for key.
func (c *Cache) Invalidate(ctx context.Context, key string, fullExpire bool) error {
	_, err := c.db.ExecContext(ctx, queryInvalidateEntry, key, time.Time{}.UTC(), fullExpire, c.now().UTC())
	return err
}

// Remove deletes the entry for key.
func (c *Cache) Remove(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, queryDeleteEntry, key)
	return err
}

// Clear deletes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, queryDeleteAll)
	return err
}

// DeleteExpired deletes entries past their hard expiry and returns how
// many were deleted.
func (c *Cache) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, queryDeleteExpired, c.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *Cache) purgeTask(ctx context.Context) {
	t := time.NewTicker(c.purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := c.DeleteExpired(ctx)
			if err != nil {
				c.logger.Warn("Failed to purge expired cache entries", zap.Error(err))
				continue
			}
			c.logger.Debug("Purged expired cache entries", zap.Int64("deleted", n))
		}
	}
}
