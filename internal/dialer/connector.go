package dialer

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/die-net/socksconnect/internal/socks"
	"github.com/die-net/socksconnect/internal/socks4"
	"github.com/die-net/socksconnect/internal/socks5"
)

// Version selects the SOCKS protocol a Connector speaks.
type Version int

const (
	SOCKS4 Version = 4
	SOCKS5 Version = 5
)

func (v Version) String() string {
	return "socks" + strconv.Itoa(int(v))
}

// Connector produces connections to destinations through a SOCKS4/4a or
// SOCKS5 proxy.
//
// A Connector is immutable after construction and safe for concurrent use.
// Each call dials its own connection to the proxy and runs its own
// handshake; nothing is shared between calls except the resolver cache.
type Connector struct {
	version    Version
	proxyHost  string
	proxyAddrs []netip.AddrPort

	userID string
	creds  socks.Credentials
	// localDNS resolves SOCKS4 destination names to IPv4 here instead of
	// sending them to the proxy with SOCKS4a.
	localDNS bool

	cfg      Config
	forward  proxy.ContextDialer
	resolver *Resolver
	log      logrus.FieldLogger
}

var (
	_ Dialer              = (*Connector)(nil)
	_ proxy.Dialer        = (*Connector)(nil)
	_ proxy.ContextDialer = (*Connector)(nil)
)

// NewSOCKS4 returns a Connector for the SOCKS4 proxy at proxyAddr
// ("host:port"), sending userID in each request. Destination names are sent
// to the proxy using SOCKS4a.
//
// proxyAddr is resolved once, here; it fails with socks.ErrAddressResolution
// if it yields no addresses.
func NewSOCKS4(ctx context.Context, cfg Config, proxyAddr, userID string) (*Connector, error) {
	if err := socks4.ValidateUserID(userID); err != nil {
		return nil, err
	}

	c, err := newConnector(ctx, cfg, SOCKS4, proxyAddr)
	if err != nil {
		return nil, err
	}
	c.userID = userID
	return c, nil
}

// NewSOCKS5 returns a Connector for the SOCKS5 proxy at proxyAddr
// ("host:port"). A zero creds offers only the no-authentication method;
// otherwise only username/password is offered.
//
// It fails with socks.ErrCredentialTooLong if either credential exceeds 255
// bytes, socks.ErrInvalidCredential if only one of them is set, or
// socks.ErrAddressResolution if proxyAddr yields no addresses.
func NewSOCKS5(ctx context.Context, cfg Config, proxyAddr string, creds socks.Credentials) (*Connector, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	c, err := newConnector(ctx, cfg, SOCKS5, proxyAddr)
	if err != nil {
		return nil, err
	}
	c.creds = creds
	return c, nil
}

func newConnector(ctx context.Context, cfg Config, version Version, proxyAddr string) (*Connector, error) {
	resolver := NewResolver(cfg.Resolver, cfg.DNSCacheTTL)

	addrs, err := resolver.ResolveAddrPort(ctx, proxyAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "%s proxy", version)
	}

	forward := cfg.Forward
	if forward == nil {
		forward = NewDirectDialer(cfg)
	}

	return &Connector{
		version:    version,
		proxyHost:  proxyAddr,
		proxyAddrs: addrs,
		cfg:        cfg,
		forward:    forward,
		resolver:   resolver,
		log:        cfg.logger(),
	}, nil
}

// Version returns the protocol the Connector speaks.
func (c *Connector) Version() Version {
	return c.version
}

// ProxyAddrs returns the resolved proxy addresses in the order they are
// tried.
func (c *Connector) ProxyAddrs() []netip.AddrPort {
	return append([]netip.AddrPort(nil), c.proxyAddrs...)
}

// Connect returns a connection to host:port relayed by the proxy, for use
// by an HTTP client. Only the "http" scheme is supported; anything else
// fails with socks.ErrUnsupportedScheme before any network I/O.
func (c *Connector) Connect(ctx context.Context, host string, port uint16, scheme string) (net.Conn, error) {
	if scheme != "http" {
		return nil, &socks.Error{
			Op:   "connect",
			Addr: net.JoinHostPort(host, strconv.Itoa(int(port))),
			Kind: socks.ErrUnsupportedScheme,
			Err:  errors.Errorf("scheme %q", scheme),
		}
	}
	conn, _, err := c.connect(ctx, host, port)
	return conn, err
}

// DialContext returns a raw TCP connection to address relayed by the proxy.
func (c *Connector) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, _, err := c.DialBound(ctx, network, address)
	return conn, err
}

// DialBound is DialContext that also returns the address the proxy reported
// binding for the relay.
func (c *Connector) DialBound(ctx context.Context, network, address string) (net.Conn, socks.Addr, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, socks.Addr{}, errors.Errorf("%s proxy dial %s %s: unsupported network", c.version, network, address)
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, socks.Addr{}, errors.Wrapf(err, "%s proxy dial %s", c.version, address)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, socks.Addr{}, errors.Wrapf(err, "%s proxy dial %s: port", c.version, address)
	}
	return c.connect(ctx, host, uint16(port))
}

// Dial is DialContext with a background context.
func (c *Connector) Dial(network, address string) (net.Conn, error) {
	return c.DialContext(context.Background(), network, address)
}

// Transport returns an http.Transport that reaches plaintext HTTP servers
// through the proxy. Requests for https URLs fail with
// socks.ErrUnsupportedScheme.
func (c *Connector) Transport() *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, _, address string) (net.Conn, error) {
			dst, err := socks.SplitAddr(address)
			if err != nil {
				return nil, err
			}
			return c.Connect(ctx, dst.Host(), dst.Port, "http")
		},
		DialTLSContext: func(_ context.Context, _, address string) (net.Conn, error) {
			return nil, &socks.Error{Op: "connect", Addr: address, Kind: socks.ErrUnsupportedScheme, Err: errors.New(`scheme "https"`)}
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (c *Connector) connect(ctx context.Context, host string, port uint16) (net.Conn, socks.Addr, error) {
	dst, err := socks.ParseAddr(host, port)
	if err != nil {
		return nil, socks.Addr{}, err
	}

	if c.version == SOCKS4 && c.localDNS && dst.Type == socks.AddrDomain {
		ip, err := c.resolver.LookupIPv4(ctx, dst.Name)
		if err != nil {
			return nil, socks.Addr{}, err
		}
		dst = socks.Addr{Type: socks.AddrIPv4, IP: ip, Port: dst.Port}
	}

	// Validate and encode before touching the network.
	m, err := c.newHandshake(dst)
	if err != nil {
		return nil, socks.Addr{}, err
	}

	log := c.log.WithFields(logrus.Fields{
		"proxy":   c.proxyHost,
		"dst":     dst.String(),
		"session": sessionID(),
	})

	conn, err := c.dialProxy(ctx)
	if err != nil {
		log.WithError(err).Debug("proxy dial failed")
		return nil, socks.Addr{}, err
	}

	if err := c.handshake(ctx, conn, m); err != nil {
		_ = conn.Close()
		log.WithError(err).WithField("phase", m.Phase()).Debug("handshake failed")
		return nil, socks.Addr{}, err
	}

	log.WithFields(logrus.Fields{
		"via":   conn.RemoteAddr().String(),
		"bound": m.Bound().String(),
	}).Debug("connected")
	return conn, m.Bound(), nil
}

// boundMachine is a handshake that reports the proxy's bound address once
// done.
type boundMachine interface {
	socks.Machine
	Bound() socks.Addr
}

func (c *Connector) newHandshake(dst socks.Addr) (boundMachine, error) {
	switch c.version {
	case SOCKS4:
		h, err := socks4.NewHandshake(dst, c.userID)
		if err != nil {
			return nil, err
		}
		return h, nil
	case SOCKS5:
		h, err := socks5.NewHandshake(dst, c.creds)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, errors.Errorf("unknown socks version %d", int(c.version))
	}
}

// dialProxy tries each proxy address in order and returns the first
// connection. If all fail the last error is reported.
func (c *Connector) dialProxy(ctx context.Context) (net.Conn, error) {
	var lastErr error
	for _, ap := range c.proxyAddrs {
		conn, err := c.forward.DialContext(ctx, "tcp", ap.String())
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &socks.Error{Op: c.version.String() + " dial", Addr: c.proxyHost, Kind: socks.ErrProxyUnreachable, Err: lastErr}
}

// aLongTimeAgo is a deadline in the past, used to unblock pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// handshake runs m over conn. If NegotiationTimeout is set, a deadline is
// applied during the handshake and cleared before returning. Canceling ctx
// interrupts a blocked read or write. conn is not closed here.
func (c *Connector) handshake(ctx context.Context, conn net.Conn, m socks.Machine) error {
	if c.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.NegotiationTimeout))
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(aLongTimeAgo)
	})

	err := socks.Run(conn, m)
	if !stop() {
		return errors.Wrapf(ctx.Err(), "%s proxy %s", c.version, c.proxyHost)
	}
	if err != nil {
		var se *socks.Error
		if errors.As(err, &se) && se.Addr == "" {
			se.Addr = c.proxyHost
		}
		return err
	}

	if c.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}
	return nil
}

func sessionID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "-"
	}
	return id.String()[:8]
}
