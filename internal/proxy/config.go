package proxy

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/http2socks/internal/dialer"
)

// Config is fixed for the lifetime of an HTTPProxyServer.
type Config struct {
	// Dialer reaches destinations through the upstream SOCKS5 proxy.
	Dialer dialer.Dialer

	// NegotiationTimeout bounds reading inbound request headers and TLS
	// handshakes on forwarded https requests.
	NegotiationTimeout time.Duration
	// HTTPIdleTimeout closes idle inbound keep-alive connections.
	HTTPIdleTimeout time.Duration
	// ForwardTimeout bounds a forwarded GET/POST, including reading the
	// response body. Zero means no limit.
	ForwardTimeout time.Duration

	// TunnelIdleTimeout closes a tunnel after no bytes moved in either
	// direction for this long. Zero means no limit.
	TunnelIdleTimeout time.Duration
	// TunnelMaxDuration closes a tunnel this long after it was accepted.
	// Zero means no limit.
	TunnelMaxDuration time.Duration
	// MaxTunnels caps concurrently open tunnels. Zero means no limit.
	MaxTunnels int64

	Logger  zerolog.Logger
	Metrics *Metrics
}
