// Package socks4 implements the client side of the SOCKS4 CONNECT handshake,
// including the SOCKS4a extension for destinations given by name.
//
// [Handshake] is a state machine with no I/O:
//
//	SendRequest -> AwaitReply -> Done
//	                          -> Failed
//
// [ClientConnect] runs it over a connection already dialed to the proxy.
package socks4
