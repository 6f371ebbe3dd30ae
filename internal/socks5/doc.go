// Package socks5 provides the small SOCKS5 handshake used by http2socks.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5. The
// client side negotiates the no-auth method and issues CONNECT requests to
// the upstream proxy. The server side exists so tests and tooling can stand
// up an in-process upstream speaking the same subset.
package socks5
