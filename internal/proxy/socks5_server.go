package proxy

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/die-net/socksconnect/internal/socks"
	"github.com/die-net/socksconnect/internal/socks5"
)

// SOCKS5Server accepts SOCKS5 CONNECT requests and relays them through
// Config.Dialer. Failures to reach the destination are reported to the
// client with the closest SOCKS5 reply code, so rejections from an upstream
// SOCKS5 proxy pass through unchanged.
type SOCKS5Server struct {
	ctx context.Context
	cfg Config
	log logrus.FieldLogger
}

func NewSOCKS5Server(ctx context.Context, cfg Config) *SOCKS5Server {
	return &SOCKS5Server{ctx: ctx, cfg: cfg, log: cfg.logger().WithField("listener", "socks5")}
}

// Serve accepts connections on ln until it is closed.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "socks5 accept")
		}
		go s.handleConn(c)
	}
}

func (s *SOCKS5Server) handleConn(conn net.Conn) {
	defer conn.Close()

	log := s.log.WithField("client", conn.RemoteAddr().String())

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	if err := socks5.ServerNegotiate(conn, s.cfg.Credentials); err != nil {
		s.cfg.logFailure(log, err, "negotiation failed")
		return
	}

	req, err := socks5.ServerReadRequest(conn)
	if err != nil {
		s.cfg.logFailure(log, err, "bad request")
		return
	}
	if req.Cmd != socks5.CmdConnect {
		socks5.WriteFailureReply(conn, socks5.RepCommandNotSupported, req.Atyp)
		return
	}

	dst := req.Address()
	log = log.WithField("dst", dst)

	up, bound, err := s.dial(dst)
	if err != nil {
		s.cfg.logFailure(log, err, "connect failed")
		socks5.WriteFailureReply(conn, socks5.ReplyCode(err), req.Atyp)
		return
	}

	if err := socks5.WriteSuccessReply(conn, bound); err != nil {
		_ = up.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	if err := CopyBidirectional(s.ctx, conn, up); err != nil {
		log.WithError(err).Debug("relay closed")
	}
}

// boundDialer reports the address an upstream proxy bound for the relay.
type boundDialer interface {
	DialBound(ctx context.Context, network, address string) (net.Conn, socks.Addr, error)
}

// dial connects to dst and returns the address to report as BND.ADDR: the
// upstream proxy's bound address when there is one, otherwise the local end
// of the outbound connection.
func (s *SOCKS5Server) dial(dst string) (net.Conn, net.Addr, error) {
	if bd, ok := s.cfg.Dialer.(boundDialer); ok {
		up, bound, err := bd.DialBound(s.ctx, "tcp", dst)
		if err != nil {
			return nil, nil, err
		}
		return up, bound, nil
	}

	up, err := s.cfg.Dialer.DialContext(s.ctx, "tcp", dst)
	if err != nil {
		return nil, nil, err
	}
	return up, up.LocalAddr(), nil
}
