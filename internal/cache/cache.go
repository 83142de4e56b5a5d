// Package cache keeps recently resolved users in the shared SQLite file so
// repeated lookups do not reach the identity provider. Rows expire after a
// fixed TTL and are replaced wholesale on every write.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hnrobert/fega/internal/clock"
	"github.com/hnrobert/fega/internal/record"
	"github.com/hnrobert/fega/internal/store"
)

// ErrMiss is returned when no unexpired row matches.
var ErrMiss = errors.New("cache: miss")

// ErrInvalidUser is returned by Upsert for a record that could not serve a
// lookup: no name, no uid, or neither a password hash nor keys.
var ErrInvalidUser = errors.New("cache: refusing to store incomplete user")

type Config struct {
	// TTL of zero stores rows that are already expired.
	TTL   time.Duration
	Clock clock.Clock
}

type Cache struct {
	st  *store.Store
	ttl time.Duration
	clk clock.Clock
}

func New(st *store.Store, cfg Config) *Cache {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{st: st, ttl: cfg.TTL, clk: clk}
}

const selectUser = `SELECT username, uid, pwdh, last_changed, gecos FROM users `

func (c *Cache) now() float64 {
	return store.UnixSeconds(c.clk.Now())
}

// LookupByName returns the cached passwd view of name.
func (c *Cache) LookupByName(ctx context.Context, name string) (record.User, error) {
	return c.lookup(ctx, selectUser+"WHERE username = ? AND expires > ?", name)
}

// LookupByID returns the cached passwd view of the (already shifted) uid.
func (c *Cache) LookupByID(ctx context.Context, uid int64) (record.User, error) {
	return c.lookup(ctx, selectUser+"WHERE uid = ? AND expires > ?", uid)
}

// LookupShadow returns the cached shadow view of name: the password hash and
// its last-change day.
func (c *Cache) LookupShadow(ctx context.Context, name string) (record.User, error) {
	return c.lookup(ctx, selectUser+"WHERE username = ? AND expires > ?", name)
}

func (c *Cache) lookup(ctx context.Context, query string, key any) (record.User, error) {
	var u record.User
	found := false
	err := c.st.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{key, c.now()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				u = scanUser(stmt)
				return nil
			},
		})
	})
	if err != nil {
		return record.User{}, fmt.Errorf("cache: lookup %v: %w", key, err)
	}
	if !found {
		return record.User{}, ErrMiss
	}
	return u, nil
}

func scanUser(stmt *sqlite.Stmt) record.User {
	u := record.User{
		Username:    stmt.ColumnText(0),
		UID:         stmt.ColumnInt64(1),
		LastChanged: stmt.ColumnInt64(3),
		Gecos:       stmt.ColumnText(4),
	}
	if stmt.ColumnType(2) != sqlite.TypeNull {
		u.PasswordHash = stmt.ColumnText(2)
	}
	return u
}

// ListPublicKeys returns the keys of an unexpired user. A user without keys
// yields an empty slice; an absent user yields ErrMiss.
func (c *Cache) ListPublicKeys(ctx context.Context, name string) ([]string, error) {
	found := false
	keys := []string{}
	err := c.st.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT k.pubkey FROM users u LEFT JOIN keys k ON k.uid = u.uid
			 WHERE u.username = ? AND u.expires > ? ORDER BY k.rowid`,
			&sqlitex.ExecOptions{
				Args: []any{name, c.now()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					if stmt.ColumnType(0) != sqlite.TypeNull {
						keys = append(keys, stmt.ColumnText(0))
					}
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("cache: keys of %s: %w", name, err)
	}
	if !found {
		return nil, ErrMiss
	}
	return keys, nil
}

// Upsert replaces every row that shares the username or the uid of u with u
// itself, expiring TTL from now. The whole replacement is one IMMEDIATE
// transaction, so concurrent writers serialize.
func (c *Cache) Upsert(ctx context.Context, u *record.User) error {
	if !u.Valid() {
		return fmt.Errorf("%w %q: %s", ErrInvalidUser, u.Username, strings.Join(u.Problems(), ", "))
	}
	var pwdh any
	if u.PasswordHash != "" {
		pwdh = u.PasswordHash
	}
	expires := store.UnixSeconds(c.clk.Now().Add(c.ttl))

	err := c.st.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn,
			"DELETE FROM keys WHERE uid IN (SELECT uid FROM users WHERE username = ? OR uid = ?)",
			&sqlitex.ExecOptions{Args: []any{u.Username, u.UID}}); err != nil {
			return err
		}
		if err := sqlitex.Execute(conn, "DELETE FROM users WHERE username = ? OR uid = ?",
			&sqlitex.ExecOptions{Args: []any{u.Username, u.UID}}); err != nil {
			return err
		}
		if err := sqlitex.Execute(conn,
			"INSERT INTO users (username, uid, pwdh, last_changed, gecos, expires) VALUES (?, ?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{u.Username, u.UID, pwdh, u.LastChanged, u.Gecos, expires}}); err != nil {
			return err
		}
		for _, key := range u.PublicKeys {
			if err := sqlitex.Execute(conn,
				"INSERT INTO keys (uid, pubkey) VALUES (?, ?) ON CONFLICT DO NOTHING",
				&sqlitex.ExecOptions{Args: []any{u.UID, key}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: upsert %s: %w", u.Username, err)
	}
	return nil
}

// Register records a user seen by the relay without credentials. The row is
// inserted already expired so lookups never serve it, and an existing row with
// the same name or uid is left untouched.
func (c *Cache) Register(ctx context.Context, u *record.User) error {
	if u.Username == "" || u.UID <= 0 {
		return ErrInvalidUser
	}
	err := c.st.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO users (username, uid, pwdh, last_changed, gecos, expires) VALUES (?, ?, NULL, ?, ?, 0)
			 ON CONFLICT DO NOTHING`,
			&sqlitex.ExecOptions{Args: []any{u.Username, u.UID, u.LastChanged, u.Gecos}})
	})
	if err != nil {
		return fmt.Errorf("cache: register %s: %w", u.Username, err)
	}
	return nil
}

// Purge deletes expired users (and their keys, by cascade). Reads never see
// expired rows, so purging only reclaims space.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	n := 0
	err := c.st.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM users WHERE expires <= ?",
			&sqlitex.ExecOptions{Args: []any{c.now()}}); err != nil {
			return err
		}
		n = conn.Changes()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache: purge: %w", err)
	}
	return n, nil
}
