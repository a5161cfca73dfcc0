package socks4

import (
	"io"

	"github.com/die-net/socksconnect/internal/socks"
)

// ClientConnect performs a SOCKS4 CONNECT to dst over rw, which must already
// be connected to the proxy. On success rw carries the relayed stream.
func ClientConnect(rw io.ReadWriter, dst socks.Addr, userID string) error {
	h, err := NewHandshake(dst, userID)
	if err != nil {
		return err
	}
	return socks.Run(rw, h)
}
