package testutil

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/die-net/http2socks/internal/socks5"
)

// SOCKS5Server is an in-process no-auth SOCKS5 proxy supporting CONNECT.
type SOCKS5Server struct {
	ln    net.Listener
	hosts map[string]string

	conns atomic.Int64

	mu      sync.Mutex
	targets []string
}

// StartSOCKS5Server starts a SOCKS5 server on loopback. hosts maps requested
// destinations (e.g. "example.com:443") to the address actually dialed;
// unmapped destinations are dialed as requested.
func StartSOCKS5Server(ctx context.Context, t *testing.T, hosts map[string]string) *SOCKS5Server {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := &SOCKS5Server{ln: ln, hosts: hosts}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.conns.Add(1)
			go s.handle(ctx, c)
		}
	}()

	return s
}

func (s *SOCKS5Server) Addr() string {
	return s.ln.Addr().String()
}

// Conns returns the number of connections accepted so far.
func (s *SOCKS5Server) Conns() int64 {
	return s.conns.Load()
}

// Targets returns the destinations requested so far, in order.
func (s *SOCKS5Server) Targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.targets...)
}

func (s *SOCKS5Server) handle(ctx context.Context, c net.Conn) {
	defer c.Close()

	if err := socks5.ServerNegotiate(c); err != nil {
		return
	}
	req, err := socks5.ServerReadRequest(c)
	if err != nil {
		return
	}
	if req.Cmd != socks5.CmdConnect {
		socks5.WriteFailureReply(c, socks5.RepCommandNotSupported, req.Atyp)
		return
	}

	s.mu.Lock()
	s.targets = append(s.targets, req.Address)
	s.mu.Unlock()

	addr := req.Address
	if mapped, ok := s.hosts[addr]; ok {
		addr = mapped
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		socks5.WriteFailureReply(c, socks5.RepHostUnreachable, req.Atyp)
		return
	}
	defer dst.Close()

	if err := socks5.WriteSuccessReply(c, dst.LocalAddr()); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(dst, c)
		if tc, ok := dst.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()
	_, _ = io.Copy(c, dst)
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	<-done
}
