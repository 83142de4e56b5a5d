package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"zombiezen.com/go/sqlite"

	"github.com/hnrobert/fega/internal/logger"
)

// ErrContention means a write kept hitting a locked database until the
// retry budget ran out.
var ErrContention = errors.New("store: database contention")

// RetryPolicy bounds the randomized exponential backoff used for writers.
type RetryPolicy struct {
	MaxRetries uint64
	Initial    time.Duration
	Max        time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries == 0 {
		p.MaxRetries = 8
	}
	if p.Initial <= 0 {
		p.Initial = 10 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 500 * time.Millisecond
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

func (p RetryPolicy) do(ctx context.Context, op func() error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if IsContention(err) {
			logger.Debug("database busy, attempt %d: %v", attempt, err)
			return err
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx))
	if err != nil && IsContention(err) {
		return fmt.Errorf("%w after %d attempts: %v", ErrContention, attempt, err)
	}
	return err
}

// IsContention reports whether err is SQLITE_BUSY or SQLITE_LOCKED in any
// extended form.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return true
	}
	return false
}
