package relay

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hnrobert/fega/internal/auth"
	"github.com/hnrobert/fega/internal/logger"
)

type ctxKey string

const ctxClaims ctxKey = "claims"

func (a *App) withAuthContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cl := a.readAuth(r); cl != nil {
			r = r.WithContext(context.WithValue(r.Context(), ctxClaims, cl))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) readAuth(r *http.Request) *auth.Claims {
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		if cl, err := auth.ParseHS256(a.secret, c.Value); err == nil {
			return cl
		}
	}
	authz := r.Header.Get("Authorization")
	if authz != "" {
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if cl, err := auth.ParseHS256(a.secret, strings.TrimSpace(parts[1])); err == nil {
				return cl
			}
		}
	}
	return nil
}

func claimsFrom(r *http.Request) *auth.Claims {
	cl, _ := r.Context().Value(ctxClaims).(*auth.Claims)
	return cl
}

// instrument counts requests by route pattern and status.
func (a *App) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.metrics.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		logger.Debug("%s %s -> %d in %s", r.Method, r.URL.Path, status, time.Since(start))
	})
}
