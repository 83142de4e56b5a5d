// Package record holds the user record served by the identity provider and
// the tolerant parser for its JSON form.
package record

import "time"

// DefaultGecos replaces a missing display name.
const DefaultGecos = "FEGA User"

// User is one identity. An empty PasswordHash means the provider sent none.
type User struct {
	Username     string
	UID          int64
	PasswordHash string
	Gecos        string
	PublicKeys   []string
	// LastChanged is the shadow last-change day, in days since the epoch.
	LastChanged int64
}

// Valid reports whether the record can be cached and served: a name, a
// positive id, and a password hash or at least one public key.
func (u *User) Valid() bool {
	return len(u.Problems()) == 0
}

// Problems lists why Valid fails.
func (u *User) Problems() []string {
	var out []string
	if u.Username == "" {
		out = append(out, "missing username")
	}
	if u.PasswordHash == "" && len(u.PublicKeys) == 0 {
		out = append(out, "neither password hash nor public keys")
	}
	if u.UID <= 0 {
		out = append(out, "uid must be positive")
	}
	return out
}

// Day converts t to the shadow day count.
func Day(t time.Time) int64 {
	return t.Unix() / 86400
}
