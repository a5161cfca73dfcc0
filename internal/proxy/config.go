package proxy

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/die-net/socksconnect/internal/dialer"
	"github.com/die-net/socksconnect/internal/socks"
)

type Config struct {
	// NegotiationTimeout bounds reading a client's HTTP request headers or
	// SOCKS5 greeting and request.
	NegotiationTimeout time.Duration

	HTTPIdleTimeout  time.Duration
	HTTPMaxIdleConns int

	KeepAlive net.KeepAliveConfig

	// Dialer reaches destinations, normally a *dialer.Connector.
	Dialer dialer.Dialer

	// Credentials, if set, are required of SOCKS5 listener clients.
	Credentials socks.Credentials

	Log logrus.FieldLogger
	// Verbose logs per-connection failures at Info instead of Debug.
	Verbose bool
}

func (c Config) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

// logFailure logs a per-connection failure at the configured level.
func (c Config) logFailure(log logrus.FieldLogger, err error, msg string) {
	log = log.WithError(err)
	if c.Verbose {
		log.Info(msg)
	} else {
		log.Debug(msg)
	}
}
