// Package socks holds the pieces shared by the SOCKS4 and SOCKS5 client
// handshakes: destination addresses, credentials, the error taxonomy and
// the driver that runs a handshake state machine over a connection.
//
// The protocol state machines themselves live in internal/socks4 and
// internal/socks5. They perform no I/O; [Run] feeds them bytes read from
// the proxy and writes the bytes they produce.
package socks
