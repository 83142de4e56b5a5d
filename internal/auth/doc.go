// Package auth holds the token and password-hash helpers shared by the
// resolver and the confirmer relay: the relay's session cookie, id_token
// verification and crypt(3) scheme detection.
package auth
