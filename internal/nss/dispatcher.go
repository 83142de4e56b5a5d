// Package nss answers passwd and shadow lookups the way a name-service
// module does: cache first, then the identity provider, with every string
// written into a caller-supplied buffer.
package nss

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/hnrobert/fega/internal/buffer"
	"github.com/hnrobert/fega/internal/cache"
	"github.com/hnrobert/fega/internal/logger"
	"github.com/hnrobert/fega/internal/record"
	"github.com/hnrobert/fega/internal/resolver"
)

// ErrIdentityMismatch means the provider answered with a different user
// than the one asked for.
var ErrIdentityMismatch = errors.New("nss: resolved identity does not match query")

// ErrNoResolver is returned for a cache miss on a dispatcher built without a
// resolver. It maps to StatusError.
var ErrNoResolver = errors.New("nss: no resolver configured")

type Cache interface {
	LookupByName(ctx context.Context, name string) (record.User, error)
	LookupByID(ctx context.Context, uid int64) (record.User, error)
	LookupShadow(ctx context.Context, name string) (record.User, error)
	ListPublicKeys(ctx context.Context, name string) ([]string, error)
	Upsert(ctx context.Context, u *record.User) error
}

type Resolver interface {
	Resolve(ctx context.Context, endpoint string, onRecord func(*record.User) error) error
}

type Config struct {
	UIDShift int64
	GID      int64
	Shell    string
	// HomePrefix is joined with the username, without a trailing slash.
	HomePrefix       string
	EndpointUsername string
	EndpointUID      string
	Aging            Aging
	// ShadowGID, when non-negative, is the only group allowed to read
	// shadow entries.
	ShadowGID int64
	// CallerGID defaults to os.Getgid.
	CallerGID func() int
}

type Dispatcher struct {
	cfg      Config
	cache    Cache
	resolver Resolver
}

// New builds a dispatcher. A nil cache gives the direct deployment.
func New(cfg Config, c Cache, r Resolver) *Dispatcher {
	if cfg.CallerGID == nil {
		cfg.CallerGID = os.Getgid
	}
	return &Dispatcher{cfg: cfg, cache: c, resolver: r}
}

// outcome maps an error from the lookup path onto the status contract.
func outcome(err error) (Status, syscall.Errno) {
	switch {
	case err == nil:
		return StatusSuccess, 0
	case errors.Is(err, buffer.ErrTooSmall):
		return StatusTryAgain, syscall.ERANGE
	case errors.Is(err, ErrNoResolver):
		return StatusError, syscall.EIO
	}
	return StatusNotFound, 0
}

func (d *Dispatcher) resolve(ctx context.Context, endpoint string, onRecord func(*record.User) error) error {
	if d.resolver == nil {
		return ErrNoResolver
	}
	return d.resolver.Resolve(ctx, endpoint, onRecord)
}

// cached reports whether a cache read produced a usable record. Store
// failures other than a miss are logged and treated as a miss.
func cached(err error, what any) bool {
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		logger.Warn("cache read for %v failed: %v", what, err)
	}
	return false
}

func (d *Dispatcher) remember(ctx context.Context, u *record.User) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Upsert(ctx, u); err != nil {
		logger.Warn("caching %s failed: %v", u.Username, err)
	}
}

func (d *Dispatcher) logResolve(what any, err error) {
	switch {
	case err == nil:
		logger.Info("user %v found remotely", what)
	case errors.Is(err, buffer.ErrTooSmall):
		logger.Debug("buffer too small for %v", what)
	case errors.Is(err, ErrIdentityMismatch), errors.Is(err, ErrNoResolver):
		logger.Error("lookup of %v: %v", what, err)
	case errors.Is(err, resolver.ErrMalformedRecord):
		logger.Warn("lookup of %v: %v", what, err)
	default:
		logger.Debug("lookup of %v: %v", what, err)
	}
}

// GetPwNam looks up a passwd entry by name.
func (d *Dispatcher) GetPwNam(ctx context.Context, name string, out *Passwd, buf []byte) (Status, syscall.Errno) {
	if name == "" {
		return StatusNotFound, 0
	}
	if d.cache != nil {
		u, err := d.cache.LookupByName(ctx, name)
		if cached(err, name) {
			logger.Debug("user %s found in cache", name)
			return outcome(d.fillPasswd(&u, out, buf))
		}
	}

	err := d.resolve(ctx, resolver.Endpoint(d.cfg.EndpointUsername, name), func(u *record.User) error {
		if u.Username != name {
			return fmt.Errorf("%w: asked %s, got %s", ErrIdentityMismatch, name, u.Username)
		}
		d.remember(ctx, u)
		return d.fillPasswd(u, out, buf)
	})
	d.logResolve(name, err)
	return outcome(err)
}

// GetPwUID looks up a passwd entry by local (shifted) uid.
func (d *Dispatcher) GetPwUID(ctx context.Context, uid int64, out *Passwd, buf []byte) (Status, syscall.Errno) {
	if uid == -1 {
		return StatusNotFound, 0
	}
	remote := uid - d.cfg.UIDShift
	if remote <= 0 {
		logger.Debug("uid %d is below the shift", uid)
		return StatusNotFound, 0
	}
	if d.cache != nil {
		u, err := d.cache.LookupByID(ctx, uid)
		if cached(err, uid) {
			logger.Debug("uid %d found in cache", uid)
			return outcome(d.fillPasswd(&u, out, buf))
		}
	}

	err := d.resolve(ctx, resolver.EndpointID(d.cfg.EndpointUID, remote), func(u *record.User) error {
		if u.UID != uid {
			return fmt.Errorf("%w: asked uid %d, got %d", ErrIdentityMismatch, uid, u.UID)
		}
		d.remember(ctx, u)
		return d.fillPasswd(u, out, buf)
	})
	d.logResolve(uid, err)
	return outcome(err)
}

// GetSpNam looks up a shadow entry by name.
func (d *Dispatcher) GetSpNam(ctx context.Context, name string, out *Shadow, buf []byte) (Status, syscall.Errno) {
	if d.cfg.ShadowGID >= 0 && int64(d.cfg.CallerGID()) != d.cfg.ShadowGID {
		logger.Debug("shadow lookup refused for gid %d", d.cfg.CallerGID())
		return StatusUnavailable, syscall.EACCES
	}
	if name == "" {
		return StatusNotFound, 0
	}
	if d.cache != nil {
		u, err := d.cache.LookupShadow(ctx, name)
		if cached(err, name) {
			return outcome(d.fillShadow(&u, out, buf))
		}
	}

	err := d.resolve(ctx, resolver.Endpoint(d.cfg.EndpointUsername, name), func(u *record.User) error {
		if u.Username != name {
			return fmt.Errorf("%w: asked %s, got %s", ErrIdentityMismatch, name, u.Username)
		}
		d.remember(ctx, u)
		return d.fillShadow(u, out, buf)
	})
	d.logResolve(name, err)
	return outcome(err)
}
