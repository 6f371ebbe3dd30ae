package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

// Hop-by-hop headers, removed in both directions. See RFC 7230 section 6.1.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

var errMissingHost = errors.New("missing request host")

// forwarder re-issues GET and POST requests through the SOCKS5 dialer.
type forwarder struct {
	client  *http.Client
	timeout time.Duration
	metrics *Metrics
}

func newForwarder(cfg Config) *forwarder {
	t := &http.Transport{
		DialContext:         cfg.Dialer.DialContext,
		DisableKeepAlives:   true,
		DisableCompression:  true,
		TLSHandshakeTimeout: cfg.NegotiationTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	return &forwarder{
		client: &http.Client{
			Transport: t,
			// Redirects belong to the client, not the proxy.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: cfg.ForwardTimeout,
		metrics: cfg.Metrics,
	}
}

// forwardURL builds the outbound URL from the request target, falling back
// to the Host header for origin-form requests.
func forwardURL(r *http.Request) (*url.URL, error) {
	u := *r.URL
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Host == "" {
		return nil, errMissingHost
	}
	return &u, nil
}

func (f *forwarder) serve(w http.ResponseWriter, r *http.Request, l zerolog.Logger) {
	target, err := forwardURL(r)
	if err != nil {
		f.fail(w, l, err, http.StatusBadRequest)
		return
	}
	l = l.With().Str("target", target.String()).Logger()

	reqBody := bytebufferpool.Get()
	defer bytebufferpool.Put(reqBody)
	if r.Body != nil {
		if _, err := reqBody.ReadFrom(r.Body); err != nil {
			f.fail(w, l, fmt.Errorf("read request body: %w", err), http.StatusBadRequest)
			return
		}
	}

	ctx := r.Context()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), bytes.NewReader(reqBody.B))
	if err != nil {
		f.fail(w, l, err, http.StatusBadRequest)
		return
	}
	copyHeader(out.Header, r.Header)
	removeHopHeaders(out.Header)
	if _, ok := out.Header["User-Agent"]; !ok {
		// Keep net/http from adding its own.
		out.Header.Set("User-Agent", "")
	}

	resp, err := f.client.Do(out)
	if err != nil {
		f.fail(w, l, err, gatewayStatus(err))
		return
	}
	defer resp.Body.Close()

	respBody := bytebufferpool.Get()
	defer bytebufferpool.Put(respBody)
	if _, err := respBody.ReadFrom(resp.Body); err != nil {
		f.fail(w, l, fmt.Errorf("read response body: %w", err), gatewayStatus(err))
		return
	}

	removeHopHeaders(resp.Header)
	copyHeader(w.Header(), resp.Header)
	if bodyAllowedForStatus(resp.StatusCode) {
		w.Header().Set("Content-Length", strconv.Itoa(respBody.Len()))
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody.B)

	f.metrics.Forwards.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	l.Debug().Int("status", resp.StatusCode).Int("bytes", respBody.Len()).Msg("forwarded")
}

func (f *forwarder) fail(w http.ResponseWriter, l zerolog.Logger, err error, code int) {
	f.metrics.Forwards.WithLabelValues(strconv.Itoa(code)).Inc()
	l.Warn().Err(err).Int("status", code).Msg("forward failed")
	http.Error(w, err.Error(), code)
}

// gatewayStatus maps an outbound failure to 504 for timeouts and 502 otherwise.
func gatewayStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// removeHopHeaders deletes the standard hop-by-hop headers and any named in
// Connection.
func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, sf := range strings.Split(f, ",") {
			if sf = strings.TrimSpace(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
	for _, hh := range hopHeaders {
		h.Del(hh)
	}
}
