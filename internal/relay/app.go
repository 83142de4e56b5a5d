// Package relay is the confirmer side of the device handshake: the OAuth2
// redirect target that exchanges the code, records the user and lands the
// session row the waiting login polls for.
package relay

import (
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/oauth2"

	"github.com/hnrobert/fega/internal/auth"
	"github.com/hnrobert/fega/internal/clock"
	"github.com/hnrobert/fega/internal/record"
	"github.com/hnrobert/fega/internal/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

// DefaultGecos is used when the userinfo has no gecos claim.
const DefaultGecos = "Local EGA User"

const cookieTTL = 24 * time.Hour

type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURI  string
	UIDShift     int64
	// CookieSecret is base64url or raw text; empty draws a random one.
	CookieSecret string
	// Notice is markdown shown on the landing page.
	Notice string
}

// Users receives the identity behind a confirmed session. Register must not
// overwrite a user the resolver already cached.
type Users interface {
	Register(ctx context.Context, u *record.User) error
}

// Sessions lands confirmation rows.
type Sessions interface {
	Confirm(ctx context.Context, s store.Session) error
}

type Deps struct {
	Users    Users
	Sessions Sessions
	Clock    clock.Clock
	// HTTPClient talks to the token and userinfo endpoints.
	HTTPClient *http.Client
}

type App struct {
	cfg        Config
	oauth      *oauth2.Config
	users      Users
	sessions   Sessions
	clk        clock.Clock
	client     *http.Client
	secret     []byte
	cookieName string
	index      *template.Template
	notice     template.HTML
	metrics    *metrics
}

type ViewData struct {
	Username string
	UID      int64
	Session  string
	Notice   template.HTML
}

func New(cfg Config, deps Deps) (*App, error) {
	if deps.Users == nil || deps.Sessions == nil {
		return nil, errors.New("relay: users and sessions are required")
	}
	secret, err := cookieSecret(cfg.CookieSecret)
	if err != nil {
		return nil, err
	}
	index, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, err
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &App{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURI,
			Scopes:      []string{"openid", "profile"},
		},
		users:      deps.Users,
		sessions:   deps.Sessions,
		clk:        clk,
		client:     client,
		secret:     secret,
		cookieName: auth.DefaultCookieName,
		index:      index,
		notice:     RenderMarkdown(cfg.Notice),
		metrics:    newMetrics(),
	}, nil
}

func cookieSecret(text string) ([]byte, error) {
	if text == "" {
		s, err := auth.NewRandomSecretB64(32)
		if err != nil {
			return nil, err
		}
		text = s
	}
	raw, err := base64.RawURLEncoding.DecodeString(text)
	if err != nil {
		raw = []byte(text)
	}
	if len(raw) < 16 {
		pad := make([]byte, 16)
		copy(pad, raw)
		raw = pad
	}
	return raw, nil
}

// Routes returns the relay's HTTP handler.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.instrument)
	r.Use(a.withAuthContext)

	r.Get("/", a.handleIndex)
	r.Get("/tokens/", a.handleTokens)
	r.Get("/api/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})
	r.Handle("/metrics", a.metrics.handler())
	return r
}

func (a *App) issueCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(cookieTTL.Seconds()),
	})
}
