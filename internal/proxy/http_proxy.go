package proxy

import (
	"context"
	"log"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/die-net/http2socks/internal/dialer"
)

// HTTPProxyServer serves an HTTP forward proxy whose outbound leg is always
// the configured SOCKS5 dialer.
//
// It supports:
// - HTTP CONNECT tunneling (via connection hijacking + bidirectional copy)
// - GET and POST forwarding (buffered, one outbound connection per request)
type HTTPProxyServer struct {
	ctx     context.Context
	cfg     Config
	dialer  dialer.Dialer
	log     zerolog.Logger
	metrics *Metrics
	tunnels *semaphore.Weighted
	fwd     *forwarder
	srv     *http.Server
}

// NewHTTPProxyServer constructs an HTTP proxy server with the given config.
//
// Tunnels outlive the request that created them and are bound to ctx
// instead; canceling ctx closes every open tunnel. Serve starts accepting
// connections on a listener; Close stops the underlying http.Server.
func NewHTTPProxyServer(ctx context.Context, cfg Config) *HTTPProxyServer {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	h := &HTTPProxyServer{
		ctx:     ctx,
		cfg:     cfg,
		dialer:  cfg.Dialer,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		fwd:     newForwarder(cfg),
	}
	if cfg.MaxTunnels > 0 {
		h.tunnels = semaphore.NewWeighted(cfg.MaxTunnels)
	}

	h.srv = &http.Server{
		Handler:           h,
		ReadHeaderTimeout: cfg.NegotiationTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ErrorLog:          log.New(cfg.Logger.With().Str("component", "http").Logger(), "", 0),
		BaseContext: func(net.Listener) context.Context {
			return h.ctx
		},
	}
	return h
}

// Serve serves HTTP proxy requests on ln.
func (s *HTTPProxyServer) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Close stops the HTTP server. Open tunnels are closed by canceling the
// server's context.
func (s *HTTPProxyServer) Close() error {
	return s.srv.Close()
}

// ServeHTTP routes r by method.
func (s *HTTPProxyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt := classify(r.Method)
	s.metrics.Requests.WithLabelValues(rt.String()).Inc()

	l := s.log.With().
		Str("trace_id", uuid.NewString()).
		Str("method", r.Method).
		Str("remote", r.RemoteAddr).
		Logger()

	switch rt {
	case routeTunnel:
		s.handleConnect(w, r, l)
	case routeForward:
		s.fwd.serve(w, r, l)
	default:
		l.Warn().Str("uri", r.RequestURI).Msg("method not allowed")
		w.Header().Set("Allow", allowedMethods)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}
