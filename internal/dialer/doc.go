// Package dialer provides the outbound dialers used by socksconnect.
//
// Dialers implement a small interface (DialContext). The direct dialer is
// the transport primitive; [Connector] dials a SOCKS4/4a or SOCKS5 proxy
// with it, runs the handshake from internal/socks4 or internal/socks5, and
// returns the negotiated connection. Connectors also expose a plaintext
// http.Transport and satisfy golang.org/x/net/proxy's dialer interfaces.
package dialer
