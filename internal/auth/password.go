package auth

import (
	"strings"

	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/md5_crypt"
	_ "github.com/GehirnInc/crypt/sha256_crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt"
)

type Scheme string

const (
	SchemeNone     Scheme = ""
	SchemeLocked   Scheme = "locked"
	SchemeMD5      Scheme = "md5-crypt"
	SchemeSHA256   Scheme = "sha256-crypt"
	SchemeSHA512   Scheme = "sha512-crypt"
	SchemeBcrypt   Scheme = "bcrypt"
	SchemeYescrypt Scheme = "yescrypt"
	SchemeUnknown  Scheme = "unknown"
)

// HashScheme classifies a crypt(3) hash by its prefix.
func HashScheme(hash string) Scheme {
	switch {
	case hash == "":
		return SchemeNone
	case strings.HasPrefix(hash, "!") || strings.HasPrefix(hash, "*"):
		return SchemeLocked
	case crypt.IsHashSupported(hash):
		switch {
		case strings.HasPrefix(hash, "$1$"):
			return SchemeMD5
		case strings.HasPrefix(hash, "$5$"):
			return SchemeSHA256
		case strings.HasPrefix(hash, "$6$"):
			return SchemeSHA512
		}
		return SchemeUnknown
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return SchemeBcrypt
	case strings.HasPrefix(hash, "$y$"), strings.HasPrefix(hash, "$7$"):
		return SchemeYescrypt
	}
	return SchemeUnknown
}

// KnownHash reports whether a login stack would recognise hash. Locked
// and empty hashes count as known: they are deliberate.
func KnownHash(hash string) bool {
	return HashScheme(hash) != SchemeUnknown
}
