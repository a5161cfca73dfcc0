package dialer

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

type Config struct {
	// DialTimeout bounds each TCP connect, to the proxy or direct.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the SOCKS handshake once connected.
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	// DNSCacheTTL caches proxy and SOCKS4 destination lookups. Zero disables
	// caching.
	DNSCacheTTL time.Duration

	// Forward reaches the proxy server. Nil means NewDirectDialer.
	Forward proxy.ContextDialer
	// Resolver looks up proxy and SOCKS4 destination names. Nil means
	// net.DefaultResolver.
	Resolver Lookuper

	// Log receives per-connection debug logs. Nil means the logrus standard
	// logger.
	Log logrus.FieldLogger
}

func (c Config) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}
