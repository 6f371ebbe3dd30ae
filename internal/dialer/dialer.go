package dialer

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"
)

// Dialer is the context-aware dialer interface shared with golang.org/x/net/proxy.
type Dialer = proxy.ContextDialer

// DefaultSOCKS5Port is used when an upstream URL names a host without a port.
const DefaultSOCKS5Port = "1080"

// New parses upstream and constructs the SOCKS5 dialer for it.
//
// Accepted forms:
//   - socks5://host[:port]
//   - socks5h://host[:port]
//   - host:port
//
// Destination hostnames are always resolved by the proxy, so socks5 and
// socks5h behave the same. Credentials in the URL are rejected.
func New(cfg Config, upstream string) (*SOCKS5ProxyDialer, error) {
	addr, err := ParseUpstream(upstream)
	if err != nil {
		return nil, err
	}
	return NewSOCKS5ProxyDialer(cfg, addr), nil
}

// ParseUpstream validates upstream and returns the proxy's host:port.
func ParseUpstream(upstream string) (string, error) {
	if upstream == "" {
		return "", errors.New("invalid upstream: empty")
	}

	if !strings.Contains(upstream, "://") {
		host, port, err := net.SplitHostPort(upstream)
		if err != nil {
			return "", fmt.Errorf("invalid upstream: %w", err)
		}
		if host == "" || port == "" {
			return "", fmt.Errorf("invalid upstream %q: missing host or port", upstream)
		}
		return upstream, nil
	}

	u, err := url.Parse(upstream)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "socks5", "socks5h":
	default:
		return "", fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}

	if u.User != nil {
		return "", errors.New("invalid url: upstream authentication is not supported")
	}
	if u.Path != "" && u.Path != "/" {
		return "", errors.New("invalid url: path should be empty")
	}
	if u.Hostname() == "" {
		return "", errors.New("invalid url: missing host")
	}

	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), DefaultSOCKS5Port), nil
	}
	return u.Host, nil
}
