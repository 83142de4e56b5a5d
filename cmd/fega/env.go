package main

import (
	"context"
	"time"

	"github.com/hnrobert/fega/internal/cache"
	"github.com/hnrobert/fega/internal/config"
	"github.com/hnrobert/fega/internal/logger"
	"github.com/hnrobert/fega/internal/nss"
	"github.com/hnrobert/fega/internal/resolver"
	"github.com/hnrobert/fega/internal/store"
)

// env is everything a subcommand may need, built from one config file.
type env struct {
	cfg   config.Config
	store *store.Store
	cache *cache.Cache
}

func loadEnv(ctx context.Context, g *globalFlags, needStore bool) (*env, error) {
	path := g.config
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.NewStore(path).Get()
	if err != nil {
		return nil, err
	}
	logger.SetDebug(cfg.Debug || g.debug)
	if cfg.LogDir != "" {
		if err := logger.Init(cfg.LogDir); err != nil {
			logger.Warn("file logging disabled: %v", err)
		}
	}

	e := &env{cfg: cfg}
	if cfg.Cache.Enabled || needStore {
		st, err := store.Open(ctx, store.Config{
			Path:        cfg.Cache.Path,
			UIDShift:    cfg.UIDShift,
			BusyTimeout: cfg.Cache.BusyTimeout,
			Retry:       store.RetryPolicy{MaxRetries: uint64(cfg.Cache.WriteRetries)},
		})
		if err != nil {
			if needStore {
				return nil, err
			}
			// The lookup path still works without its cache.
			logger.Warn("cache unavailable, querying remotely: %v", err)
		} else {
			e.store = st
			e.cache = cache.New(st, cache.Config{TTL: cfg.Cache.TTL})
		}
	}
	return e, nil
}

func (e *env) Close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			logger.Warn("%v", err)
		}
	}
}

func (e *env) dispatcher() (*nss.Dispatcher, error) {
	r, err := resolver.New(resolver.Config{
		Credentials:    e.cfg.Remote.Credentials,
		CACertFile:     e.cfg.Remote.CACertFile,
		CertFile:       e.cfg.Remote.CertFile,
		KeyFile:        e.cfg.Remote.KeyFile,
		VerifyPeer:     e.cfg.Remote.VerifyPeer,
		VerifyHostname: e.cfg.Remote.VerifyHostname,
		Timeout:        e.cfg.Remote.Timeout,
		UIDShift:       e.cfg.UIDShift,
	})
	if err != nil {
		return nil, err
	}
	cfg := nss.Config{
		UIDShift:         e.cfg.UIDShift,
		GID:              e.cfg.GID,
		Shell:            e.cfg.Shell,
		HomePrefix:       e.cfg.HomePrefix,
		EndpointUsername: e.cfg.Remote.EndpointUsername,
		EndpointUID:      e.cfg.Remote.EndpointUID,
		ShadowGID:        e.cfg.Shadow.GID,
		Aging: nss.Aging{
			Min:      e.cfg.Shadow.Min,
			Max:      e.cfg.Shadow.Max,
			Warn:     e.cfg.Shadow.Warn,
			Inactive: e.cfg.Shadow.Inactive,
			Expire:   e.cfg.Shadow.Expire,
		},
	}
	// A nil *cache.Cache must stay an untyped nil for the direct deployment.
	if e.cache == nil {
		return nss.New(cfg, nil, r), nil
	}
	return nss.New(cfg, e.cache, r), nil
}

const sessionRetention = 24 * time.Hour
