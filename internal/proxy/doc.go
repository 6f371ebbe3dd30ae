// Package proxy implements the http2socks HTTP proxy front-end.
//
// Requests are routed by method. CONNECT is acknowledged immediately and
// turned into a raw byte tunnel over a SOCKS5-negotiated connection. GET and
// POST are re-issued through the same SOCKS5 upstream and their responses
// relayed back. Everything else is refused without touching the upstream.
package proxy
