package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

type testFlags struct {
	fs       *pflag.FlagSet
	listen   *string
	upstream *string
	timeout  *time.Duration
	max      *int64
}

func newTestFlags() testFlags {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	return testFlags{
		fs:       fs,
		listen:   fs.String("listen", "127.0.0.1:3129", ""),
		upstream: fs.String("upstream", "socks5://127.0.0.1:12345", ""),
		timeout:  fs.Duration("tunnel-idle-timeout", 5*time.Minute, ""),
		max:      fs.Int64("max-tunnels", 0, ""),
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "http2socks.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyPrecedence(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
listen = 0.0.0.0:8080
upstream = socks5://file:1080
tunnel_idle_timeout = 30s
max-tunnels = 10
`)

	f := newTestFlags()
	require.NoError(t, f.fs.Parse([]string{"--listen=127.0.0.1:9999"}))

	err := Apply(f.fs, path, env(map[string]string{
		"HTTP2SOCKS_LISTEN":   "10.0.0.1:1",
		"HTTP2SOCKS_UPSTREAM": "socks5://env:1080",
	}))
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9999", *f.listen, "command line wins")
	require.Equal(t, "socks5://env:1080", *f.upstream, "environment beats file")
	require.Equal(t, 30*time.Second, *f.timeout, "file beats default")
	require.Equal(t, int64(10), *f.max)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	f := newTestFlags()
	require.NoError(t, f.fs.Parse(nil))
	require.NoError(t, Apply(f.fs, "", nil))

	require.Equal(t, "127.0.0.1:3129", *f.listen)
	require.Equal(t, "socks5://127.0.0.1:12345", *f.upstream)
	require.Equal(t, 5*time.Minute, *f.timeout)
}

func TestApplyErrors(t *testing.T) {
	t.Parallel()

	t.Run("unknown key", func(t *testing.T) {
		t.Parallel()

		f := newTestFlags()
		err := Apply(f.fs, writeConfig(t, "listne = :1\n"), nil)
		require.ErrorContains(t, err, `unknown key "listne"`)
	})

	t.Run("bad file value", func(t *testing.T) {
		t.Parallel()

		f := newTestFlags()
		err := Apply(f.fs, writeConfig(t, "max_tunnels = lots\n"), nil)
		require.ErrorContains(t, err, "invalid max-tunnels")
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Parallel()

		f := newTestFlags()
		err := Apply(f.fs, "", env(map[string]string{"HTTP2SOCKS_TUNNEL_IDLE_TIMEOUT": "soon"}))
		require.ErrorContains(t, err, "invalid HTTP2SOCKS_TUNNEL_IDLE_TIMEOUT")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		f := newTestFlags()
		err := Apply(f.fs, filepath.Join(t.TempDir(), "nope.ini"), nil)
		require.ErrorContains(t, err, "load config")
	})
}

func TestEnvName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "HTTP2SOCKS_LISTEN", EnvName("listen"))
	require.Equal(t, "HTTP2SOCKS_TUNNEL_IDLE_TIMEOUT", EnvName("tunnel-idle-timeout"))
}

func TestParseTCPKeepAlive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    net.KeepAliveConfig
		wantErr bool
	}{
		{in: "on", want: net.KeepAliveConfig{Enable: true}},
		{in: " OFF ", want: net.KeepAliveConfig{}},
		{in: "45:45:3", want: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 45 * time.Second, Count: 3}},
		{in: "10:5:2", want: net.KeepAliveConfig{Enable: true, Idle: 10 * time.Second, Interval: 5 * time.Second, Count: 2}},
		{in: "", wantErr: true},
		{in: "45:45", wantErr: true},
		{in: "0:45:3", wantErr: true},
		{in: "45:x:3", wantErr: true},
		{in: "45:45:-1", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseTCPKeepAlive(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}
