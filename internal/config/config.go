package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPath     = "/etc/ega/auth.yaml"
	defaultShift    = 10000
	defaultShell    = "/bin/bash"
	defaultHome     = "/ega/inbox"
	defaultDBPath   = "/run/ega.db"
	defaultTTL      = time.Hour
	defaultInterval = 5 * time.Second
	defaultRepeat   = 12 // one minute with the default interval
)

// EnvPath overrides the config file location when no flag is given.
const EnvPath = "FEGA_CONFIG"

type Config struct {
	// UIDShift is added to every remote user id.
	UIDShift int64  `yaml:"uid_shift"`
	GID      int64  `yaml:"gid"`
	Shell    string `yaml:"shell"`
	// HomePrefix is joined with the username to form the home directory.
	HomePrefix string `yaml:"homedir_prefix"`
	LogDir     string `yaml:"log_dir"`
	Debug      bool   `yaml:"debug"`

	Cache  CacheConfig  `yaml:"cache"`
	Remote RemoteConfig `yaml:"remote"`
	Shadow ShadowConfig `yaml:"shadow"`
	Auth   AuthConfig   `yaml:"auth"`
	Relay  RelayConfig  `yaml:"relay"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
	// BusyTimeout is how long SQLite itself waits on a lock before the
	// write is retried.
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	WriteRetries int           `yaml:"write_retries"`
}

type RemoteConfig struct {
	// EndpointUsername and EndpointUID are templates with one
	// placeholder (%s, %d or {}) for the lookup key.
	EndpointUsername string        `yaml:"endpoint_username"`
	EndpointUID      string        `yaml:"endpoint_uid"`
	Credentials      string        `yaml:"credentials"` // user:password
	CACertFile       string        `yaml:"cacertfile"`
	CertFile         string        `yaml:"certfile"`
	KeyFile          string        `yaml:"keyfile"`
	VerifyPeer       bool          `yaml:"verify_peer"`
	VerifyHostname   bool          `yaml:"verify_hostname"`
	Timeout          time.Duration `yaml:"timeout"`
}

// ShadowConfig holds the aging fields reported with every shadow entry.
type ShadowConfig struct {
	// GID restricts shadow lookups to callers running with this group.
	// Negative disables the check.
	GID      int64 `yaml:"gid"`
	Min      int64 `yaml:"min"`
	Max      int64 `yaml:"max"`
	Warn     int64 `yaml:"warn"`
	Inactive int64 `yaml:"inactive"`
	Expire   int64 `yaml:"expire"`
}

type AuthConfig struct {
	IdPURL       string        `yaml:"idp_url"`
	TokenURL     string        `yaml:"token_url"`
	UserInfoURL  string        `yaml:"userinfo_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RedirectURI  string        `yaml:"redirect_uri"`
	Interval     time.Duration `yaml:"interval"`
	Repeat       int           `yaml:"repeat"`
}

type RelayConfig struct {
	Listen string `yaml:"listen"`
	// Notice is markdown shown on the landing page after a confirmation.
	Notice string `yaml:"notice"`
	// CookieSecret signs the landing page cookie. Random per process when
	// empty.
	CookieSecret string `yaml:"cookie_secret"`
}

type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns $FEGA_CONFIG or /etc/ega/auth.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return defaultPath
}

func (s *Store) Path() string { return s.path }

// Get reads the file, applies defaults and validates the result.
func (s *Store) Get() (Config, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", s.path, err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", s.path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into a validated Config.
func Parse(b []byte) (Config, error) {
	// Zero is a legal uid_shift and cache.ttl, so those defaults are seeded
	// before decoding rather than filled in afterwards.
	cfg := Config{
		UIDShift: defaultShift,
		GID:      -1,
		Cache:    CacheConfig{TTL: defaultTTL},
		Shadow:   ShadowConfig{GID: -1, Min: -1, Max: -1, Warn: -1, Inactive: -1, Expire: -1},
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) WithDefaults() Config {
	if c.Shell == "" {
		c.Shell = defaultShell
	}
	if c.HomePrefix == "" {
		c.HomePrefix = defaultHome
	}
	c.HomePrefix = strings.TrimRight(c.HomePrefix, "/")
	if c.Cache.Path == "" {
		c.Cache.Path = defaultDBPath
	}
	if c.Cache.BusyTimeout <= 0 {
		c.Cache.BusyTimeout = 200 * time.Millisecond
	}
	if c.Cache.WriteRetries <= 0 {
		c.Cache.WriteRetries = 8
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = 10 * time.Second
	}
	if c.Auth.Interval == 0 {
		c.Auth.Interval = defaultInterval
	}
	if c.Auth.Repeat == 0 {
		c.Auth.Repeat = defaultRepeat
	}
	if c.Relay.Listen == "" {
		c.Relay.Listen = ":9001"
	}
	return c
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.UIDShift < 0 {
		errs = append(errs, errors.New("uid_shift must be >= 0"))
	}
	if c.GID < 0 {
		errs = append(errs, errors.New("gid is required"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must be >= 0"))
	}
	if c.Remote.Credentials == "" || !strings.Contains(c.Remote.Credentials, ":") {
		errs = append(errs, errors.New("remote.credentials must be user:password"))
	}
	if c.Remote.EndpointUsername == "" {
		errs = append(errs, errors.New("remote.endpoint_username is required"))
	}
	if c.Remote.EndpointUID == "" {
		errs = append(errs, errors.New("remote.endpoint_uid is required"))
	}
	if c.Remote.VerifyPeer && c.Remote.CACertFile == "" {
		errs = append(errs, errors.New("remote.cacertfile is required with verify_peer"))
	}
	if (c.Remote.CertFile == "") != (c.Remote.KeyFile == "") {
		errs = append(errs, errors.New("remote.certfile and remote.keyfile go together"))
	}
	if c.Auth.Interval < 0 {
		errs = append(errs, errors.New("auth.interval must be > 0"))
	}
	if c.Auth.Repeat < 0 {
		errs = append(errs, errors.New("auth.repeat must be > 0"))
	}
	return errors.Join(errs...)
}

// ValidateAuth checks the settings the device handshake needs.
func (c Config) ValidateAuth() error {
	var errs []error
	if c.Auth.IdPURL == "" {
		errs = append(errs, errors.New("auth.idp_url is required"))
	}
	if c.Auth.ClientID == "" {
		errs = append(errs, errors.New("auth.client_id is required"))
	}
	if c.Auth.RedirectURI == "" {
		errs = append(errs, errors.New("auth.redirect_uri is required"))
	}
	if !c.Cache.Enabled {
		errs = append(errs, errors.New("cache.enabled is required: sessions land in the cache database"))
	}
	return errors.Join(errs...)
}

// ValidateRelay checks the settings the confirming relay needs on top of
// ValidateAuth.
func (c Config) ValidateRelay() error {
	errs := []error{c.ValidateAuth()}
	if c.Auth.TokenURL == "" {
		errs = append(errs, errors.New("auth.token_url is required"))
	}
	if c.Auth.UserInfoURL == "" {
		errs = append(errs, errors.New("auth.userinfo_url is required"))
	}
	if c.Auth.ClientSecret == "" {
		errs = append(errs, errors.New("auth.client_secret is required"))
	}
	return errors.Join(errs...)
}
