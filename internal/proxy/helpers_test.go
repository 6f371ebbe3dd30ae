package proxy

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/die-net/http2socks/internal/dialer"
)

func testConfig(upstreamAddr string) Config {
	return Config{
		Dialer: dialer.NewSOCKS5ProxyDialer(dialer.Config{
			DialTimeout:        2 * time.Second,
			NegotiationTimeout: 2 * time.Second,
		}, upstreamAddr),
		NegotiationTimeout: 2 * time.Second,
		Logger:             zerolog.Nop(),
		Metrics:            NewMetrics(nil),
	}
}

// startProxy serves cfg on a loopback listener and returns its address.
func startProxy(ctx context.Context, t *testing.T, cfg Config) string {
	t.Helper()

	ln, err := ListenTCP(ctx, "tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: false}, false)
	require.NoError(t, err)

	srv := NewHTTPProxyServer(ctx, cfg)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return ln.Addr().String()
}

// dialConnect opens a connection to the proxy, sends CONNECT target and
// returns the connection, a reader positioned after the response headers,
// and the response.
func dialConnect(t *testing.T, proxyAddr, target string) (net.Conn, *bufio.Reader, *http.Response) {
	t.Helper()

	c, err := net.Dial("tcp", proxyAddr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	req := &http.Request{Method: http.MethodConnect, Host: target, URL: &url.URL{Opaque: target}, Header: make(http.Header)}
	bw := bufio.NewWriter(c)
	require.NoError(t, req.Write(bw))
	require.NoError(t, bw.Flush())

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	return c, br, resp
}

func proxyClient(t *testing.T, proxyAddr string) *http.Client {
	t.Helper()

	u, err := url.Parse("http://" + proxyAddr)
	require.NoError(t, err)

	return &http.Client{
		Transport: &http.Transport{
			Proxy:              http.ProxyURL(u),
			DisableKeepAlives:  true,
			DisableCompression: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: 5 * time.Second,
	}
}

// startSilentServer accepts connections and never writes to them.
func startSilentServer(ctx context.Context, t *testing.T) net.Listener {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(io.Discard, c)
			}()
		}
	}()

	return ln
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
