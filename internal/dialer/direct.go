package dialer

import (
	"context"
	"fmt"
	"net"
)

type directDialer struct {
	d  net.Dialer
	ka net.KeepAliveConfig
}

// NewDirectDialer returns a Dialer that connects without any proxy, applying
// the configured dial timeout and TCP keepalive.
func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{
		// Keepalive is set after the dial so that "off" stays off.
		d: net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: -1,
		},
		ka: cfg.KeepAlive,
	}
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := f.d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetKeepAliveConfig(f.ka); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set keepalive %s: %w", address, err)
		}
	}
	return conn, nil
}
