// Package store owns the SQLite file shared by the identity cache, the
// lookup path and the confirmer relay. Readers run concurrently under WAL;
// writers are serialized by IMMEDIATE transactions and retried on
// contention.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hnrobert/fega/internal/logger"
)

// Config describes how to open the database.
type Config struct {
	Path string
	// UIDShift is the lower bound enforced on cached uids.
	UIDShift    int64
	BusyTimeout time.Duration
	PoolSize    int
	Retry       RetryPolicy
}

// Store wraps a connection pool.
type Store struct {
	pool  *sqlitex.Pool
	path  string
	retry RetryPolicy
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username     TEXT PRIMARY KEY,
	uid          INTEGER NOT NULL UNIQUE CHECK (uid > %d),
	pwdh         TEXT NULL,
	last_changed INTEGER NOT NULL,
	gecos        TEXT NOT NULL,
	expires      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS users_expires ON users (expires);
CREATE TABLE IF NOT EXISTS keys (
	uid    INTEGER NOT NULL REFERENCES users (uid) ON DELETE CASCADE,
	pubkey TEXT NOT NULL,
	PRIMARY KEY (uid, pubkey)
);
CREATE TABLE IF NOT EXISTS tokens (
	session_id   TEXT PRIMARY KEY,
	uid          INTEGER,
	access_token TEXT NOT NULL,
	id_token     TEXT,
	created      REAL NOT NULL
);
`

// Open opens (creating if needed) the database at cfg.Path and ensures the
// schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store: path is required")
	}
	if cfg.UIDShift < 0 {
		return nil, fmt.Errorf("store: negative uid shift %d", cfg.UIDShift)
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 4
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 200 * time.Millisecond
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepare(conn, busy)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}
	s := &Store{pool: pool, path: cfg.Path, retry: cfg.Retry.withDefaults()}

	err = s.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, fmt.Sprintf(schema, cfg.UIDShift), nil)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	logger.Debug("store opened at %s (pool %d, busy timeout %s)", cfg.Path, size, busy)
	return s, nil
}

func prepare(conn *sqlite.Conn, busy time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close waits for borrowed connections and closes the pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	return nil
}

// Read runs fn on a pooled connection outside any explicit transaction.
func (s *Store) Read(ctx context.Context, fn func(*sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// Write runs fn inside an IMMEDIATE transaction, retrying the whole
// transaction while the database reports SQLITE_BUSY or SQLITE_LOCKED.
// Exhausted retries return ErrContention; any other error is returned as is
// and rolls the transaction back.
func (s *Store) Write(ctx context.Context, fn func(*sqlite.Conn) error) error {
	return s.retry.do(ctx, func() error {
		return s.writeOnce(ctx, fn)
	})
}

func (s *Store) writeOnce(ctx context.Context, fn func(*sqlite.Conn) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer end(&err)
	return fn(conn)
}
