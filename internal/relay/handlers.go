package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/oauth2"

	"github.com/hnrobert/fega/internal/auth"
	"github.com/hnrobert/fega/internal/logger"
	"github.com/hnrobert/fega/internal/record"
	"github.com/hnrobert/fega/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errBadUserInfo = errors.New("relay: unusable userinfo")

type userInfo struct {
	Nickname string `json:"nickname"`
	Sub      any    `json:"sub"`
	Gecos    string `json:"gecos"`
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func (a *App) fail(w http.ResponseWriter, result string, status int, msg string) {
	a.metrics.confirmations.WithLabelValues(result).Inc()
	http.Error(w, msg, status)
}

// handleTokens is the OAuth2 redirect target. The state parameter carries
// the session id issued to the waiting login.
func (a *App) handleTokens(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		a.fail(w, "bad_request", http.StatusBadRequest, "Should have a code")
		return
	}
	session := r.URL.Query().Get("state")
	if session == "" {
		a.fail(w, "bad_request", http.StatusBadRequest, "Should have a state")
		return
	}

	ctx := context.WithValue(r.Context(), oauth2.HTTPClient, a.client)
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		logger.Warn("code exchange for session %s from %s failed: %v", session, remoteIP(r), err)
		a.fail(w, "exchange", http.StatusBadRequest, "Failed to obtain OAuth access token.")
		return
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken != "" {
		if _, err := auth.VerifyIDToken([]byte(a.cfg.ClientSecret), a.cfg.ClientID, idToken); err != nil {
			logger.Warn("id_token for session %s rejected: %v", session, err)
			a.fail(w, "id_token", http.StatusBadRequest, "Invalid ID token.")
			return
		}
	}

	u, err := a.fetchUser(r.Context(), tok.AccessToken)
	if err != nil {
		logger.Warn("userinfo for session %s: %v", session, err)
		a.fail(w, "userinfo", http.StatusBadRequest, "Invalid Request")
		return
	}
	if err := a.users.Register(r.Context(), u); err != nil {
		logger.Error("recording user %s: %v", u.Username, err)
		a.fail(w, "store", http.StatusInternalServerError, "Internal Server Error")
		return
	}
	err = a.sessions.Confirm(r.Context(), store.Session{
		ID:          session,
		UID:         u.UID,
		AccessToken: tok.AccessToken,
		IDToken:     idToken,
		Created:     a.clk.Now(),
	})
	if err != nil {
		logger.Error("confirming session %s: %v", session, err)
		a.fail(w, "store", http.StatusInternalServerError, "Internal Server Error")
		return
	}

	cookie, err := auth.SignHS256(a.secret, u.Username, u.UID, session, cookieTTL)
	if err != nil {
		a.fail(w, "cookie", http.StatusInternalServerError, "Failed to create session.")
		return
	}
	a.metrics.confirmations.WithLabelValues("confirmed").Inc()
	logger.Info("session %s confirmed for %s (uid %d)", session, u.Username, u.UID)
	a.issueCookie(w, cookie)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *App) fetchUser(ctx context.Context, accessToken string) (*record.User, error) {
	endpoint := a.cfg.UserInfoURL
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	endpoint += sep + url.Values{"access_token": {accessToken}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", errBadUserInfo, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadUserInfo, err)
	}
	if info.Nickname == "" {
		return nil, fmt.Errorf("%w: no nickname", errBadUserInfo)
	}
	sub, err := subject(info.Sub)
	if err != nil {
		return nil, err
	}
	gecos := info.Gecos
	if gecos == "" {
		gecos = DefaultGecos
	}
	return &record.User{
		Username:    info.Nickname,
		UID:         a.cfg.UIDShift + sub,
		Gecos:       gecos,
		LastChanged: record.Day(a.clk.Now()),
	}, nil
}

// subject reads the numeric remote id from a sub claim sent either as a
// string or as a number.
func subject(v any) (int64, error) {
	var n int64
	switch s := v.(type) {
	case string:
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: sub %q is not numeric", errBadUserInfo, s)
		}
		n = parsed
	case float64:
		n = int64(s)
		if float64(n) != s {
			return 0, fmt.Errorf("%w: sub %v is not an integer", errBadUserInfo, s)
		}
	default:
		return 0, fmt.Errorf("%w: missing sub", errBadUserInfo)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: sub %d is not positive", errBadUserInfo, n)
	}
	return n, nil
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	cl := claimsFrom(r)
	if cl == nil {
		http.Error(w, "Invalid credentials", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := &ViewData{Username: cl.Username, UID: cl.UID, Session: cl.ID, Notice: a.notice}
	if err := a.index.Execute(w, data); err != nil {
		logger.Error("rendering index failed: %v", err)
	}
}
