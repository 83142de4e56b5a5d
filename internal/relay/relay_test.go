package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hnrobert/fega/internal/auth"
	"github.com/hnrobert/fega/internal/cache"
	"github.com/hnrobert/fega/internal/record"
	"github.com/hnrobert/fega/internal/store"
)

const (
	clientID     = "lega"
	clientSecret = "client-secret"
	shift        = 10000
)

type fixture struct {
	app   *App
	h     http.Handler
	st    *store.Store
	cache *cache.Cache
}

func signIDToken(t *testing.T, secret, aud string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.IDClaims{
		Nickname: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{aud},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

// fakeIdP accepts the code "good" and answers userinfo for access token "at".
func fakeIdP(t *testing.T, idToken string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.Form.Get("code") != "good" || r.Form.Get("client_secret") != clientSecret || r.Form.Get("client_id") != clientID {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		extra := ""
		if idToken != "" {
			extra = fmt.Sprintf(`,"id_token":%q`, idToken)
		}
		fmt.Fprintf(w, `{"access_token":"at","token_type":"Bearer","expires_in":3600%s}`, extra)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "at" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"nickname":"alice","sub":"42","email":"alice@example.org"}`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newFixture(t *testing.T, idToken string) *fixture {
	t.Helper()
	idp := fakeIdP(t, idToken)
	st, err := store.Open(context.Background(), store.Config{
		Path:     filepath.Join(t.TempDir(), "ega.db"),
		UIDShift: shift,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	c := cache.New(st, cache.Config{TTL: time.Hour})

	app, err := New(Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      idp.URL + "/authorize",
		TokenURL:     idp.URL + "/token",
		UserInfoURL:  idp.URL + "/userinfo",
		RedirectURI:  "http://relay.test/tokens/",
		UIDShift:     shift,
		CookieSecret: "cookie-secret-for-tests",
		Notice:       "Please **log out** when done.",
	}, Deps{Users: c, Sessions: st, HTTPClient: idp.Client()})
	require.NoError(t, err)
	return &fixture{app: app, h: app.Routes(), st: st, cache: c}
}

func (f *fixture) userRows(t *testing.T) []string {
	t.Helper()
	var rows []string
	err := f.st.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT username, uid, gecos FROM users ORDER BY uid", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rows = append(rows, fmt.Sprintf("%s %d %s", stmt.ColumnText(0), stmt.ColumnInt64(1), stmt.ColumnText(2)))
				return nil
			},
		})
	})
	require.NoError(t, err)
	return rows
}

func (f *fixture) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func TestTokensConfirmsSession(t *testing.T) {
	f := newFixture(t, signIDToken(t, clientSecret, clientID))
	ctx := context.Background()
	sess := "3f1c2b7e-1111-4222-8333-944455556666"

	rec := f.get("/tokens/?code=good&state=" + sess)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/", rec.Header().Get("Location"))

	ok, err := f.st.HasSession(ctx, sess)
	require.NoError(t, err)
	assert.True(t, ok)

	// Registered without credentials, so never served to lookups.
	_, err = f.cache.LookupByName(ctx, "alice")
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.Equal(t, []string{fmt.Sprintf("alice %d %s", shift+42, DefaultGecos)}, f.userRows(t))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	page := f.get("/", cookies[0])
	require.Equal(t, http.StatusOK, page.Code)
	body := page.Body.String()
	assert.Contains(t, body, "Welcome alice")
	assert.Contains(t, body, "<strong>log out</strong>")
	assert.Contains(t, body, sess)
}

func TestTokensKeepsResolvedUser(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.cache.Upsert(ctx, &record.User{
		Username:     "alice",
		UID:          shift + 42,
		PasswordHash: "$6$salt$hash",
		Gecos:        "Alice",
		PublicKeys:   []string{"ssh-ed25519 AAAA1"},
	}))

	rec := f.get("/tokens/?code=good&state=s2")
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	u, err := f.cache.LookupShadow(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "$6$salt$hash", u.PasswordHash)
	assert.Equal(t, "Alice", u.Gecos)
	keys, err := f.cache.ListPublicKeys(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"ssh-ed25519 AAAA1"}, keys)
}

func TestTokensWithoutIDToken(t *testing.T) {
	f := newFixture(t, "")
	rec := f.get("/tokens/?code=good&state=s1")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestTokensRejects(t *testing.T) {
	cases := map[string]struct {
		idToken string
		path    string
	}{
		"missing code":       {"", "/tokens/?state=s1"},
		"missing state":      {"", "/tokens/?code=good"},
		"bad code":           {"", "/tokens/?code=bad&state=s1"},
		"forged id token":    {"forged", "/tokens/?code=good&state=s1"},
		"wrong aud id token": {"aud", "/tokens/?code=good&state=s1"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			idToken := ""
			switch tc.idToken {
			case "forged":
				idToken = signIDToken(t, "not-the-secret", clientID)
			case "aud":
				idToken = signIDToken(t, clientSecret, "other-client")
			}
			f := newFixture(t, idToken)
			rec := f.get(tc.path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			ok, err := f.st.HasSession(context.Background(), "s1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestIndexRequiresCookie(t *testing.T) {
	f := newFixture(t, "")
	assert.Equal(t, http.StatusBadRequest, f.get("/").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/", &http.Cookie{Name: auth.DefaultCookieName, Value: "junk"}).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "")
	rec := f.get("/api/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	f.get("/tokens/?code=good&state=s2")
	metrics := f.get("/metrics").Body.String()
	assert.Contains(t, metrics, `fega_relay_confirmations_total{result="confirmed"} 1`)
	assert.Contains(t, metrics, `fega_relay_http_requests_total{code="200",route="/api/healthz"} 1`)
}

func TestSubject(t *testing.T) {
	n, err := subject("42")
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)
	n, err = subject(float64(7))
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	for _, bad := range []any{nil, "x", "-1", 1.5, float64(0)} {
		_, err := subject(bad)
		assert.ErrorIs(t, err, errBadUserInfo, "%v", bad)
	}
}

func TestServerShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer("", f.app).Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/api/healthz")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "ok"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
