package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const connectEstablished = "HTTP/1.1 200 Connection established\r\n\r\n"

// defaultConnectPort is assumed when a CONNECT authority has no port.
const defaultConnectPort = "443"

var errMissingAuthority = errors.New("missing CONNECT authority")

// connectTarget returns the host:port a CONNECT request asks for.
func connectTarget(r *http.Request) (string, error) {
	authority := r.Host
	if authority == "" && r.URL != nil {
		authority = r.URL.Host
	}
	if authority == "" {
		return "", errMissingAuthority
	}

	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		var ae *net.AddrError
		if !errors.As(err, &ae) || ae.Err != "missing port in address" {
			return "", fmt.Errorf("invalid CONNECT authority %q: %w", authority, err)
		}
		host = strings.TrimSuffix(strings.TrimPrefix(authority, "["), "]")
		port = defaultConnectPort
	}
	if host == "" {
		return "", fmt.Errorf("invalid CONNECT authority %q: missing host", authority)
	}
	if p, err := strconv.ParseUint(port, 10, 16); err != nil || p == 0 {
		return "", fmt.Errorf("invalid CONNECT authority %q: bad port", authority)
	}

	return net.JoinHostPort(host, port), nil
}

func (s *HTTPProxyServer) handleConnect(w http.ResponseWriter, r *http.Request, l zerolog.Logger) {
	target, err := connectTarget(r)
	if err != nil {
		l.Warn().Err(err).Str("uri", r.RequestURI).Msg("bad connect request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	l = l.With().Str("target", target).Logger()
	l.Info().Str("uri", r.RequestURI).Msg("connect request")

	if s.tunnels != nil && !s.tunnels.TryAcquire(1) {
		s.metrics.Tunnels.WithLabelValues(resultRejected).Inc()
		l.Warn().Int64("max_tunnels", s.cfg.MaxTunnels).Msg("tunnel limit reached")
		http.Error(w, "too many open tunnels", http.StatusServiceUnavailable)
		return
	}
	release := func() {
		if s.tunnels != nil {
			s.tunnels.Release(1)
		}
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		release()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, brw, err := hj.Hijack()
	if err != nil {
		release()
		l.Error().Err(err).Msg("hijack failed")
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}

	// The server may have left deadlines on the connection.
	_ = clientConn.SetDeadline(time.Time{})

	// Acknowledge before the upstream is negotiated; a failed negotiation
	// shows up to the client as a closed connection.
	_, _ = brw.WriteString(connectEstablished)
	if err := brw.Flush(); err != nil {
		release()
		_ = clientConn.Close()
		l.Debug().Err(err).Msg("client gone before tunnel start")
		return
	}

	clientConn = newBufferedConn(clientConn, brw.Reader)

	go func() {
		defer release()
		s.runTunnel(clientConn, target, l)
	}()
}

// runTunnel owns clientConn and closes it before returning.
func (s *HTTPProxyServer) runTunnel(clientConn net.Conn, target string, l zerolog.Logger) {
	s.metrics.TunnelsActive.Inc()
	defer s.metrics.TunnelsActive.Dec()

	ctx := s.ctx
	if s.cfg.TunnelMaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, s.cfg.TunnelMaxDuration,
			fmt.Errorf("tunnel open longer than %s", s.cfg.TunnelMaxDuration))
		defer cancel()
	}

	start := time.Now()

	upConn, err := s.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		s.metrics.Tunnels.WithLabelValues(resultDialError).Inc()
		l.Error().Err(err).Msg("socks5 connect failed")
		_ = clientConn.Close()
		return
	}

	st, err := CopyBidirectional(ctx, clientConn, upConn, s.cfg.TunnelIdleTimeout)

	s.metrics.TunnelBytes.WithLabelValues("upstream").Add(float64(st.LeftToRight))
	s.metrics.TunnelBytes.WithLabelValues("downstream").Add(float64(st.RightToLeft))

	if err != nil {
		s.metrics.Tunnels.WithLabelValues(resultError).Inc()
		l.Error().Err(err).
			Int64("sent", st.LeftToRight).
			Int64("received", st.RightToLeft).
			Dur("duration", time.Since(start)).
			Msg("tunnel error")
		return
	}

	s.metrics.Tunnels.WithLabelValues(resultClosed).Inc()
	l.Info().
		Int64("sent", st.LeftToRight).
		Int64("received", st.RightToLeft).
		Dur("duration", time.Since(start)).
		Msg("tunnel closed")
}
