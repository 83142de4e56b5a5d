// Package handshake runs the out-of-band device authentication: it hands
// the user an authorization URL carrying a fresh session id, then waits a
// bounded time for the relay to land a confirmation row for that id.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/hnrobert/fega/internal/clock"
	"github.com/hnrobert/fega/internal/logger"
)

type State int

const (
	Created State = iota
	AwaitingConfirmation
	Confirmed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case AwaitingConfirmation:
		return "awaiting-confirmation"
	case Confirmed:
		return "confirmed"
	case TimedOut:
		return "timed-out"
	}
	return "unknown"
}

var (
	ErrNotStarted = errors.New("handshake: Begin was not called")
	ErrStarted    = errors.New("handshake: already started")
)

// Arrivals answers whether a confirmation for a session has landed.
type Arrivals interface {
	HasSession(ctx context.Context, id string) (bool, error)
}

type Config struct {
	// IdPURL is the provider's authorization endpoint.
	IdPURL      string
	ClientID    string
	RedirectURI string
	Scopes      []string
	Interval    time.Duration
	Repeat      int
}

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"openid", "profile"}

type Challenge struct {
	SessionID string
	URL       string
}

// Handshake is single use: Begin once, then Wait.
type Handshake struct {
	arrivals Arrivals
	clk      clock.Clock
	oauth    *oauth2.Config
	interval time.Duration
	repeat   int

	mu      sync.Mutex
	state   State
	session string
}

func New(cfg Config, arrivals Arrivals, clk clock.Clock) *Handshake {
	if clk == nil {
		clk = clock.Real()
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &Handshake{
		arrivals: arrivals,
		clk:      clk,
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			Endpoint:    oauth2.Endpoint{AuthURL: cfg.IdPURL},
			RedirectURL: cfg.RedirectURI,
			Scopes:      scopes,
		},
		interval: cfg.Interval,
		repeat:   cfg.Repeat,
	}
}

func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handshake) set(s State) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	logger.Debug("handshake %s: %s -> %s", h.session, h.state, s)
	h.state = s
	return s
}

// Begin draws a session id and builds the authorization URL with the id as
// the OAuth2 state parameter.
func (h *Handshake) Begin() (Challenge, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session != "" {
		return Challenge{}, ErrStarted
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return Challenge{}, fmt.Errorf("handshake: session id: %w", err)
	}
	h.session = id.String()
	h.state = Created
	return Challenge{SessionID: h.session, URL: h.oauth.AuthCodeURL(h.session)}, nil
}

// Wait polls for the confirmation at most Repeat times, sleeping Interval
// between polls. A cancelled ctx ends the wait as TimedOut. Errors from the
// arrivals store count as "not yet".
func (h *Handshake) Wait(ctx context.Context) State {
	h.mu.Lock()
	session, state := h.session, h.state
	h.mu.Unlock()
	if session == "" {
		logger.Error("%v", ErrNotStarted)
		return TimedOut
	}
	if state == Confirmed || state == TimedOut {
		return state
	}

	h.set(AwaitingConfirmation)
	for poll := 1; poll <= h.repeat; poll++ {
		if ctx.Err() != nil {
			logger.Info("handshake %s interrupted", session)
			return h.set(TimedOut)
		}
		ok, err := h.arrivals.HasSession(ctx, session)
		if err != nil {
			logger.Debug("poll %d for %s: %v", poll, session, err)
		}
		if ok {
			return h.set(Confirmed)
		}
		if poll == h.repeat {
			break
		}
		select {
		case <-ctx.Done():
			logger.Info("handshake %s interrupted", session)
			return h.set(TimedOut)
		case <-h.clk.After(h.interval):
		}
	}
	logger.Info("handshake %s timed out after %d polls", session, h.repeat)
	return h.set(TimedOut)
}
