package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
gid: 500
remote:
  endpoint_username: https://cega.example/users/%s?idType=username
  endpoint_uid: https://cega.example/users/%d?idType=uid
  credentials: lega:secret
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, int64(10000), cfg.UIDShift)
	assert.Equal(t, int64(500), cfg.GID)
	assert.Equal(t, "/bin/bash", cfg.Shell)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 5*time.Second, cfg.Auth.Interval)
	assert.Equal(t, 12, cfg.Auth.Repeat)
	assert.Equal(t, int64(-1), cfg.Shadow.GID)
	assert.Equal(t, int64(-1), cfg.Shadow.Max)
	assert.False(t, cfg.Cache.Enabled)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
uid_shift: 20000
homedir_prefix: /lega/
cache:
  enabled: true
  ttl: 90s
shadow:
  max: 99999
auth:
  interval: 2s
  repeat: 3
`))
	require.NoError(t, err)
	assert.Equal(t, int64(20000), cfg.UIDShift)
	assert.Equal(t, "/lega", cfg.HomePrefix)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, int64(99999), cfg.Shadow.Max)
	assert.Equal(t, int64(-1), cfg.Shadow.Min)
	assert.Equal(t, 2*time.Second, cfg.Auth.Interval)
	assert.Equal(t, 3, cfg.Auth.Repeat)
}

func TestParseHonorsExplicitZeros(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
uid_shift: 0
cache:
  ttl: 0s
`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), cfg.UIDShift)
	assert.Equal(t, time.Duration(0), cfg.Cache.TTL)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"missing gid":          "remote: {endpoint_username: a, endpoint_uid: b, credentials: 'u:p'}",
		"missing credentials":  "gid: 1\nremote: {endpoint_username: a, endpoint_uid: b}",
		"peer without ca":      minimal + "  verify_peer: true\n",
		"cert without key":     minimal + "  certfile: /etc/ega/client.pem\n",
		"negative ttl":         minimal + "cache: {ttl: -1s}\n",
		"missing uid endpoint": "gid: 1\nremote: {endpoint_username: a, credentials: 'u:p'}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestValidateRelay(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Error(t, cfg.ValidateAuth())

	cfg.Cache.Enabled = true
	cfg.Auth.IdPURL = "https://idp.example/authorize"
	cfg.Auth.ClientID = "lega"
	cfg.Auth.RedirectURI = "https://relay.example/tokens/"
	assert.NoError(t, cfg.ValidateAuth())
	assert.Error(t, cfg.ValidateRelay())

	cfg.Auth.TokenURL = "https://idp.example/token"
	cfg.Auth.UserInfoURL = "https://idp.example/userinfo"
	cfg.Auth.ClientSecret = "s3cret"
	assert.NoError(t, cfg.ValidateRelay())
}

func TestStoreGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0600))

	cfg, err := NewStore(path).Get()
	require.NoError(t, err)
	assert.Equal(t, "lega:secret", cfg.Remote.Credentials)

	_, err = NewStore(filepath.Join(t.TempDir(), "missing.yaml")).Get()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultPathFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "/tmp/fega.yaml")
	assert.Equal(t, "/tmp/fega.yaml", DefaultPath())
}
