package proxy

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/die-net/socksconnect/internal/dialer"
	"github.com/die-net/socksconnect/internal/socks"
)

// HTTPProxyServer serves an HTTP forward proxy.
//
// It supports:
// - HTTP CONNECT tunneling (via connection hijacking + bidirectional copy)
// - plain HTTP proxying (via httputil.ReverseProxy)
type HTTPProxyServer struct {
	ctx context.Context
	cfg Config
	log logrus.FieldLogger
	srv *http.Server
	rp  *httputil.ReverseProxy
}

// NewHTTPProxyServer constructs an HTTP proxy server with the given config.
//
// Serve starts accepting connections on a listener; Close stops the underlying
// http.Server. Tunnels are torn down when ctx is canceled.
func NewHTTPProxyServer(ctx context.Context, cfg Config) *HTTPProxyServer {
	h := &HTTPProxyServer{
		ctx: ctx,
		cfg: cfg,
		log: cfg.logger().WithField("listener", "http"),
	}
	h.rp = h.newReverseProxy()
	h.srv = &http.Server{
		Handler:           http.HandlerFunc(h.handle),
		ReadHeaderTimeout: cfg.NegotiationTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return h.ctx
		},
	}
	return h
}

// Serve serves HTTP proxy requests on ln until Close is called.
func (s *HTTPProxyServer) Serve(ln net.Listener) error {
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the HTTP server.
func (s *HTTPProxyServer) Close() error {
	return s.srv.Close()
}

func (s *HTTPProxyServer) handle(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Method, http.MethodConnect) {
		s.handleConnect(w, r)
		return
	}
	s.rp.ServeHTTP(w, r)
}

func (s *HTTPProxyServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, brw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}
	_ = brw.Flush()

	target := r.Host
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}
	log := s.log.WithFields(logrus.Fields{"client": r.RemoteAddr, "dst": target})

	ctx := r.Context()

	serverConn, err := s.cfg.Dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		s.cfg.logFailure(log, err, "connect failed")
		_, _ = writeError(brw, err, statusFor(err))
		_ = brw.Flush()
		_ = clientConn.Close()
		return
	}

	_, _ = brw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n")
	if err := brw.Flush(); err != nil {
		_ = clientConn.Close()
		_ = serverConn.Close()
		return
	}

	// The client may pipeline data behind the CONNECT request.
	if n := brw.Reader.Buffered(); n > 0 {
		pending, _ := brw.Reader.Peek(n)
		if _, err := serverConn.Write(pending); err != nil {
			_ = clientConn.Close()
			_ = serverConn.Close()
			return
		}
	}

	if err := CopyBidirectional(ctx, clientConn, serverConn); err != nil {
		log.WithError(err).Debug("tunnel closed")
	}
}

// writeError simulates http.Error() for use on a hijacked connection.
func writeError(brw *bufio.ReadWriter, err error, code int) (int, error) {
	return fmt.Fprintf(brw, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\n\r\n%s\r\n", code, http.StatusText(code), err.Error())
}

// statusFor picks the response status for a failure to reach the origin.
func statusFor(err error) int {
	switch {
	case errors.Is(err, socks.ErrUnsupportedScheme), errors.Is(err, socks.ErrUnsupportedAddress):
		return http.StatusNotImplemented
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *HTTPProxyServer) newReverseProxy() *httputil.ReverseProxy {
	director := func(r *http.Request) {
		// Forward-proxy handling: ensure URL is absolute and points at the origin server.
		if r.URL == nil {
			return
		}

		// Allow schema override through a non-standard header.
		if sch, ok := r.Header["X-Proxy-Scheme"]; ok {
			delete(r.Header, "X-Proxy-Scheme")
			r.URL.Scheme = sch[0]
		} else if r.URL.Scheme == "" {
			r.URL.Scheme = "http"
		}

		if r.URL.Host == "" {
			r.URL.Host = r.Host
		}
		r.Host = r.URL.Host

		// Ask that X-Forwarded-For not be set.
		r.Header["X-Forwarded-For"] = nil
	}

	errHandler := func(w http.ResponseWriter, r *http.Request, err error) {
		s.cfg.logFailure(s.log.WithFields(logrus.Fields{"client": r.RemoteAddr, "dst": r.URL.Host}), err, "request failed")
		http.Error(w, err.Error(), statusFor(err))
	}

	return &httputil.ReverseProxy{
		Director:      director,
		Transport:     newTransport(s.cfg),
		FlushInterval: 10 * time.Millisecond, // Only buffer incomplete responses briefly
		ErrorHandler:  errHandler,
		BufferPool:    newBufferPool(32768),
	}
}

// newTransport returns the round tripper for plain HTTP requests. A SOCKS
// connector supplies its own transport, which refuses https; any other
// Dialer is used for every scheme.
func newTransport(cfg Config) *http.Transport {
	var t *http.Transport
	if c, ok := cfg.Dialer.(*dialer.Connector); ok {
		t = c.Transport()
	} else {
		t = &http.Transport{
			DialContext:       cfg.Dialer.DialContext,
			ForceAttemptHTTP2: true,
		}
	}

	maxIdle := cfg.HTTPMaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2048
	}
	t.MaxIdleConns = maxIdle
	t.MaxIdleConnsPerHost = max(maxIdle/2, 1)
	t.IdleConnTimeout = cfg.HTTPIdleTimeout
	t.TLSHandshakeTimeout = cfg.NegotiationTimeout
	return t
}
