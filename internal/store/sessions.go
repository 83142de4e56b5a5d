package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Session is a confirmation row written by the relay once the user has
// authenticated out of band.
type Session struct {
	ID          string
	UID         int64
	AccessToken string
	IDToken     string
	Created     time.Time
}

var ErrEmptySession = errors.New("store: session id and access token are required")

// HasSession reports whether a confirmation row exists for id.
func (s *Store) HasSession(ctx context.Context, id string) (bool, error) {
	found := false
	err := s.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT 1 FROM tokens WHERE session_id = ?", &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(*sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return false, fmt.Errorf("store: session %s: %w", id, err)
	}
	return found, nil
}

// Confirm lands a session row. A repeated confirmation replaces the tokens.
func (s *Store) Confirm(ctx context.Context, sess Session) error {
	if sess.ID == "" || sess.AccessToken == "" {
		return ErrEmptySession
	}
	var idToken any
	if sess.IDToken != "" {
		idToken = sess.IDToken
	}
	var uid any
	if sess.UID > 0 {
		uid = sess.UID
	}
	return s.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO tokens (session_id, uid, access_token, id_token, created) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (session_id) DO UPDATE SET uid = excluded.uid, access_token = excluded.access_token,
			 id_token = excluded.id_token, created = excluded.created`,
			&sqlitex.ExecOptions{Args: []any{sess.ID, uid, sess.AccessToken, idToken, UnixSeconds(sess.Created)}})
	})
}

// PurgeSessions removes confirmation rows created before cutoff.
func (s *Store) PurgeSessions(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	err := s.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM tokens WHERE created < ?", &sqlitex.ExecOptions{
			Args: []any{UnixSeconds(cutoff)},
		}); err != nil {
			return err
		}
		n = conn.Changes()
		return nil
	})
	return n, err
}

// UnixSeconds is the REAL timestamp encoding used by every table.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
