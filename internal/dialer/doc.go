// Package dialer provides the outbound dialers used by http2socks.
//
// Every outbound connection goes through an upstream SOCKS5 proxy. The
// SOCKS5 dialer reaches the proxy with a direct dialer and negotiates a
// CONNECT relay before handing back the connection.
package dialer
