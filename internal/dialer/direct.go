package dialer

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

type directDialer struct {
	cfg Config
}

// NewDirectDialer returns a Dialer that connects without a proxy, applying
// cfg's dial timeout and TCP keepalive settings.
func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{cfg: cfg}
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dd := net.Dialer{Timeout: f.cfg.DialTimeout}

	conn, err := dd.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s %s", network, address)
	}

	// net.Dialer enables its default keepalive unless KeepAlive is negative,
	// so the configured one is applied after the dial.
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(f.cfg.KeepAlive)
	}

	return conn, nil
}
