// Package proxy implements the local listeners that expose a SOCKS upstream
// to other programs.
//
// It contains the HTTP forward proxy (CONNECT and plain HTTP), the SOCKS5
// listener, and shared connection plumbing such as keepalive listeners and
// bidirectional copy.
package proxy
