//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package dialer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/die-net/http2socks/internal/testutil"
)

func soKeepAlive(t *testing.T, c net.Conn) int {
	t.Helper()

	raw, err := c.(*net.TCPConn).SyscallConn()
	require.NoError(t, err)

	var (
		v      int
		optErr error
	)
	require.NoError(t, raw.Control(func(fd uintptr) {
		v, optErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE)
	}))
	require.NoError(t, optErr)
	return v
}

func TestDirectDialerKeepAlive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln := testutil.StartEchoTCPServer(ctx, t)

	tests := []struct {
		name string
		ka   net.KeepAliveConfig
		want bool
	}{
		{name: "off", ka: net.KeepAliveConfig{Enable: false}, want: false},
		{name: "on", ka: net.KeepAliveConfig{Enable: true}, want: true},
		{name: "tuned", ka: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 45 * time.Second, Count: 3}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDirectDialer(Config{DialTimeout: time.Second, KeepAlive: tt.ka})

			c, err := d.DialContext(ctx, "tcp", ln.Addr().String())
			require.NoError(t, err)
			defer c.Close()

			require.Equal(t, tt.want, soKeepAlive(t, c) != 0)
		})
	}
}
