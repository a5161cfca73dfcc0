package proxy

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// ListenTCP listens on addr and returns a net.Listener that applies
// keepAlive to accepted TCP connections.
func ListenTCP(ctx context.Context, addr string, keepAlive net.KeepAliveConfig) (net.Listener, error) {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	return &KeepAliveListener{Listener: ln, KeepAliveConfig: keepAlive}, nil
}

// KeepAliveListener applies KeepAliveConfig to each accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}

	return conn, nil
}
