package socks5

import (
	"io"

	"github.com/die-net/socksconnect/internal/socks"
)

// ClientConnect negotiates authentication and performs a SOCKS5 CONNECT to
// dst over rw, which must already be connected to the proxy. It returns the
// bound address from the proxy's reply.
func ClientConnect(rw io.ReadWriter, dst socks.Addr, creds socks.Credentials) (socks.Addr, error) {
	h, err := NewHandshake(dst, creds)
	if err != nil {
		return socks.Addr{}, err
	}
	if err := socks.Run(rw, h); err != nil {
		return socks.Addr{}, err
	}
	return h.Bound(), nil
}
