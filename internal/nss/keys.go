package nss

import (
	"context"
	"errors"
	"fmt"

	"github.com/hnrobert/fega/internal/cache"
	"github.com/hnrobert/fega/internal/logger"
	"github.com/hnrobert/fega/internal/record"
	"github.com/hnrobert/fega/internal/resolver"
)

// PublicKeys returns the SSH keys of name for an authorized-keys command.
// A cached user without keys is an answer, not a miss.
func (d *Dispatcher) PublicKeys(ctx context.Context, name string) ([]string, Status) {
	if name == "" {
		return nil, StatusNotFound
	}
	if d.cache != nil {
		keys, err := d.cache.ListPublicKeys(ctx, name)
		if err == nil {
			return keys, StatusSuccess
		}
		if !errors.Is(err, cache.ErrMiss) {
			logger.Warn("cache read for %s keys failed: %v", name, err)
		}
	}

	var keys []string
	err := d.resolve(ctx, resolver.Endpoint(d.cfg.EndpointUsername, name), func(u *record.User) error {
		if u.Username != name {
			return fmt.Errorf("%w: asked %s, got %s", ErrIdentityMismatch, name, u.Username)
		}
		d.remember(ctx, u)
		keys = u.PublicKeys
		return nil
	})
	d.logResolve(name, err)
	if err != nil {
		st, _ := outcome(err)
		return nil, st
	}
	return keys, StatusSuccess
}
