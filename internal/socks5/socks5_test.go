package socks5

import (
	"errors"
	"fmt"
	"net"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

func TestClientDialToServer(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
	}{
		{name: "ipv4", address: "127.0.0.1:80", want: "127.0.0.1:80"},
		{name: "ipv6", address: "[::1]:443", want: "[::1]:443"},
		{name: "domain", address: "example.com:443", want: "example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				if err := ServerNegotiate(serverConn); err != nil {
					return err
				}

				req, err := ServerReadRequest(serverConn)
				if err != nil {
					return err
				}
				if req.Cmd != CmdConnect {
					return fmt.Errorf("unexpected command: %d", req.Cmd)
				}
				if req.Address != tt.want {
					return fmt.Errorf("unexpected address: %q", req.Address)
				}

				return WriteSuccessReply(serverConn, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})
			})

			if err := ClientDial(clientConn, tt.address); err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestClientDialReplyError(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		if err := ServerNegotiate(serverConn); err != nil {
			return err
		}
		req, err := ServerReadRequest(serverConn)
		if err != nil {
			return err
		}
		WriteFailureReply(serverConn, RepHostUnreachable, req.Atyp)
		return nil
	})

	err := ClientDial(clientConn, "10.0.0.1:443")
	var re *ReplyError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ReplyError, got %v", err)
	}
	if re.Rep != RepHostUnreachable {
		t.Fatalf("expected host unreachable, got %s", ReplyText(re.Rep))
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestClientNegotiateRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		if _, err := txsocks5.NewNegotiationRequestFrom(serverConn); err != nil {
			return err
		}
		writeNoAcceptableMethods(serverConn)
		return nil
	})

	if err := ClientNegotiate(clientConn); !errors.Is(err, ErrNoAcceptableMethod) {
		t.Fatalf("expected ErrNoAcceptableMethod, got %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestReplyText(t *testing.T) {
	if got := ReplyText(RepConnectionRefused); got != "connection refused" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := ReplyText(0x42); got != "unknown reply 0x42" {
		t.Fatalf("unexpected text %q", got)
	}
}
