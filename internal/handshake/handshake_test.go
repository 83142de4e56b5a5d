package handshake

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/fega/internal/clock"
)

type arrivals struct {
	mu        sync.Mutex
	polls     int
	confirmed map[string]bool
	// arriveAt confirms whatever session is polled on that poll number.
	arriveAt int
	err      error
}

func (a *arrivals) HasSession(_ context.Context, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	if a.err != nil {
		return false, a.err
	}
	if a.arriveAt > 0 && a.polls >= a.arriveAt {
		return true, nil
	}
	return a.confirmed[id], nil
}

func cfg(interval time.Duration, repeat int) Config {
	return Config{
		IdPURL:      "https://login.example.org/oidc/authorize",
		ClientID:    "lega",
		RedirectURI: "https://relay.example.org/tokens/",
		Interval:    interval,
		Repeat:      repeat,
	}
}

func TestBeginBuildsURL(t *testing.T) {
	h := New(cfg(time.Second, 1), &arrivals{}, clock.NewFake(time.Unix(0, 0)))
	ch, err := h.Begin()
	require.NoError(t, err)
	_, err = uuid.Parse(ch.SessionID)
	require.NoError(t, err)
	assert.Equal(t, Created, h.State())

	u, err := url.Parse(ch.URL)
	require.NoError(t, err)
	assert.Equal(t, "login.example.org", u.Host)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "lega", q.Get("client_id"))
	assert.Equal(t, "https://relay.example.org/tokens/", q.Get("redirect_uri"))
	assert.Equal(t, "openid profile", q.Get("scope"))
	assert.Equal(t, ch.SessionID, q.Get("state"))

	_, err = h.Begin()
	assert.ErrorIs(t, err, ErrStarted)
}

func TestSessionIDsDiffer(t *testing.T) {
	a, _ := New(cfg(time.Second, 1), &arrivals{}, nil).Begin()
	b, _ := New(cfg(time.Second, 1), &arrivals{}, nil).Begin()
	assert.NotEqual(t, a.SessionID, b.SessionID)
}

func TestWaitTimesOut(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	a := &arrivals{}
	h := New(cfg(time.Second, 2), a, clk)
	_, err := h.Begin()
	require.NoError(t, err)

	assert.Equal(t, TimedOut, h.Wait(context.Background()))
	assert.LessOrEqual(t, a.polls, 2)
	assert.Equal(t, []time.Duration{time.Second}, clk.Sleeps())
	assert.Equal(t, TimedOut, h.State())
}

func TestWaitConfirmedOnFirstPoll(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	a := &arrivals{confirmed: map[string]bool{}}
	h := New(cfg(time.Second, 5), a, clk)
	ch, err := h.Begin()
	require.NoError(t, err)
	a.confirmed[ch.SessionID] = true

	assert.Equal(t, Confirmed, h.Wait(context.Background()))
	assert.Equal(t, 1, a.polls)
	assert.Empty(t, clk.Sleeps())
	// Final states stick.
	assert.Equal(t, Confirmed, h.Wait(context.Background()))
}

func TestWaitConfirmedLater(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	a := &arrivals{arriveAt: 3}
	h := New(cfg(2*time.Second, 5), a, clk)
	_, err := h.Begin()
	require.NoError(t, err)

	assert.Equal(t, Confirmed, h.Wait(context.Background()))
	assert.Equal(t, 3, a.polls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clk.Sleeps())
}

func TestWaitStoreErrorsAreNotYet(t *testing.T) {
	a := &arrivals{err: errors.New("database is locked")}
	h := New(cfg(time.Second, 3), a, clock.NewFake(time.Unix(0, 0)))
	_, err := h.Begin()
	require.NoError(t, err)
	assert.Equal(t, TimedOut, h.Wait(context.Background()))
	assert.Equal(t, 3, a.polls)
}

func TestWaitCancelled(t *testing.T) {
	a := &arrivals{arriveAt: 1}
	h := New(cfg(time.Hour, 100), a, clock.Real())
	_, err := h.Begin()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, TimedOut, h.Wait(ctx))
	assert.Zero(t, a.polls)
}

func TestWaitCancelledWhileSleeping(t *testing.T) {
	a := &arrivals{}
	h := New(cfg(time.Hour, 100), a, clock.Real())
	_, err := h.Begin()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.Equal(t, TimedOut, h.Wait(ctx))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, a.polls)
}

func TestWaitWithoutBegin(t *testing.T) {
	h := New(cfg(time.Second, 1), &arrivals{}, nil)
	assert.Equal(t, TimedOut, h.Wait(context.Background()))
}
