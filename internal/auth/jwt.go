package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultCookieName = "fega_session"
	DefaultIssuer     = "fega-relay"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the relay cookie: who was confirmed, for which session.
type Claims struct {
	Username string `json:"name"`
	UID      int64  `json:"uid"`
	jwt.RegisteredClaims
}

// IDClaims is the subset of the provider's id_token the relay checks.
type IDClaims struct {
	Nickname string `json:"nickname,omitempty"`
	jwt.RegisteredClaims
}

func NewRandomSecretB64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func SignHS256(secret []byte, username string, uid int64, session string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		UID:      uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   username,
			ID:        session,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}

func hmacKey(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}
}

func ParseHS256(secret []byte, tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, hmacKey(secret),
		jwt.WithLeeway(30*time.Second), jwt.WithIssuer(DefaultIssuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyIDToken checks an HS256 id_token signed with the client secret and
// issued for clientID.
func VerifyIDToken(clientSecret []byte, clientID, tokenString string) (*IDClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &IDClaims{}, hmacKey(clientSecret),
		jwt.WithLeeway(30*time.Second), jwt.WithAudience(clientID), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*IDClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
