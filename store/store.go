// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/farview-dev/farview/lib/clock"
	"github.com/farview-dev/farview/lib/sqlitepool"
)

// Sentinel errors returned by store operations. Callers match these
// with errors.Is to map them onto HTTP or protocol responses.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrEmailTaken     = errors.New("store: email already registered")
	ErrBadCredentials = errors.New("store: invalid email or password")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	name       TEXT NOT NULL,
	platform   TEXT NOT NULL,
	online     INTEGER NOT NULL DEFAULT 0,
	last_seen  INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS devices_by_user ON devices(user_id);

CREATE TABLE IF NOT EXISTS device_sessions (
	token      TEXT PRIMARY KEY,
	device_id  TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS device_sessions_by_device ON device_sessions(device_id);
`

// Config carries the dependencies for opening a Store.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// PoolSize is the connection pool size. Zero means the
	// sqlitepool default.
	PoolSize int

	// Clock supplies timestamps for created-at, last-seen, and
	// session expiry. Required.
	Clock clock.Clock

	// Logger receives store-level diagnostics. Required.
	Logger *slog.Logger
}

// Store provides durable account, device, and session state.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens the database at cfg.Path and returns a ready Store. The
// schema is applied lazily as pooled connections initialize; it is
// idempotent, so every connection runs it.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, errors.New("store: Config.Clock is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("store: Config.Logger is required")
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) now() time.Time {
	return s.clock.Now()
}
