// Package socks5 implements the SOCKS5 CONNECT handshake (RFC 1928) with
// optional username/password authentication (RFC 1929).
//
// The client side is [Handshake], an I/O-free state machine:
//
//	MethodNegotiation -> [Authentication] -> Request -> [ReplyAddrLen] -> ReplyAddr -> Done
//
// with any step able to move to Failed. [ClientConnect] runs it over a
// connection to the proxy.
//
// The server side (server.go) is a thin layer over the protocol types in
// github.com/txthinking/socks5, used by the local SOCKS5 listener.
package socks5
