// Package resolver fetches user records from the identity provider over
// HTTPS with Basic credentials, validates them and applies the local uid
// shift.
package resolver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hnrobert/fega/internal/auth"
	"github.com/hnrobert/fega/internal/clock"
	"github.com/hnrobert/fega/internal/logger"
	"github.com/hnrobert/fega/internal/record"
)

// DefaultMaxBodyBytes caps a single record response.
const DefaultMaxBodyBytes = 1 << 20

var (
	// ErrRemoteUnavailable covers transport failures and non-2xx replies.
	ErrRemoteUnavailable = errors.New("resolver: remote unavailable")
	// ErrMalformedRecord covers bodies that parse with errors or fail
	// validation.
	ErrMalformedRecord = errors.New("resolver: malformed record")
)

type Config struct {
	// Credentials is "user:password".
	Credentials    string
	CACertFile     string
	CertFile       string
	KeyFile        string
	VerifyPeer     bool
	VerifyHostname bool
	Timeout        time.Duration
	UIDShift       int64
	MaxBodyBytes   int64
	Clock          clock.Clock
	// Transport replaces the TLS transport built from the fields above.
	Transport http.RoundTripper
}

type Resolver struct {
	client   *http.Client
	user     string
	password string
	shift    int64
	maxBody  int64
	clk      clock.Clock
}

func New(cfg Config) (*Resolver, error) {
	user, password, ok := strings.Cut(cfg.Credentials, ":")
	if !ok || user == "" {
		return nil, errors.New("resolver: credentials must be user:password")
	}
	if cfg.UIDShift < 0 {
		return nil, fmt.Errorf("resolver: negative uid shift %d", cfg.UIDShift)
	}
	rt := cfg.Transport
	if rt == nil {
		tlsCfg, err := TLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = tlsCfg
		rt = tr
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Resolver{
		client:   &http.Client{Transport: rt, Timeout: timeout},
		user:     user,
		password: password,
		shift:    cfg.UIDShift,
		maxBody:  maxBody,
		clk:      clk,
	}, nil
}

// TLSConfig builds the client TLS settings. The two switches are
// independent: VerifyPeer checks the chain against the CA file and
// VerifyHostname checks that the leaf certificate names the host dialled.
// Hostname checks without peer checks need a DNS name in the URL, since IP
// literals are not sent as server names.
func TLSConfig(cfg Config) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("resolver: certfile and keyfile must be set together")
	}
	if cfg.CertFile != "" {
		pair, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("resolver: client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{pair}
	}

	if !cfg.VerifyPeer {
		logger.Warn("remote peer verification disabled")
		tlsCfg.InsecureSkipVerify = true
		if cfg.VerifyHostname {
			tlsCfg.VerifyConnection = verifyHostname
		}
		return tlsCfg, nil
	}
	if cfg.CACertFile == "" {
		return nil, errors.New("resolver: verify_peer requires cacertfile")
	}
	pem, err := os.ReadFile(cfg.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("resolver: read ca: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("resolver: no certificates in %s", cfg.CACertFile)
	}
	tlsCfg.RootCAs = roots
	if cfg.VerifyHostname {
		return tlsCfg, nil
	}

	tlsCfg.InsecureSkipVerify = true
	tlsCfg.VerifyConnection = func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("no server certificate presented")
		}
		intermediates := x509.NewCertPool()
		for _, cert := range cs.PeerCertificates[1:] {
			intermediates.AddCert(cert)
		}
		_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
		})
		if err != nil {
			return fmt.Errorf("server certificate verification failed: %w", err)
		}
		return nil
	}
	return tlsCfg, nil
}

func verifyHostname(cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		return errors.New("no server certificate presented")
	}
	if cs.ServerName == "" {
		return errors.New("no server name to verify the certificate against")
	}
	if err := cs.PeerCertificates[0].VerifyHostname(cs.ServerName); err != nil {
		return fmt.Errorf("server certificate hostname: %w", err)
	}
	return nil
}

// Endpoint fills the single %s, %d or {} placeholder of template with key,
// escaped as one path segment.
func Endpoint(template, key string) string {
	esc := url.PathEscape(key)
	for _, ph := range []string{"%s", "%d", "{}"} {
		if strings.Contains(template, ph) {
			return strings.Replace(template, ph, esc, 1)
		}
	}
	return strings.TrimSuffix(template, "/") + "/" + esc
}

// EndpointID is Endpoint for a numeric key.
func EndpointID(template string, id int64) string {
	return Endpoint(template, strconv.FormatInt(id, 10))
}

// Resolve fetches one record from endpoint. On success the uid has been
// shifted and the last-change day set to today before onRecord runs; the
// callback's error is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, endpoint string, onRecord func(*record.User) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	req.SetBasicAuth(r.user, r.password)
	req.Header.Set("Accept", "application/json")

	logger.Debug("contacting %s", endpoint)
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", ErrRemoteUnavailable, endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBody+1))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", ErrRemoteUnavailable, err)
	}
	if int64(len(body)) > r.maxBody {
		return fmt.Errorf("%w: body larger than %d bytes", ErrMalformedRecord, r.maxBody)
	}

	u, n, err := record.Parse(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d structural errors", ErrMalformedRecord, n)
	}
	if problems := u.Problems(); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrMalformedRecord, strings.Join(problems, ", "))
	}
	if !auth.KnownHash(u.PasswordHash) {
		logger.Warn("user %s has a password hash of unrecognised scheme", u.Username)
	}

	u.UID += r.shift
	u.LastChanged = record.Day(r.clk.Now())
	logger.Debug("resolved %s as uid %d", u.Username, u.UID)
	return onRecord(&u)
}
