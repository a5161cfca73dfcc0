package dialer

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"

	"github.com/die-net/socksconnect/internal/socks"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DefaultPort is used when an upstream URL has no port.
const DefaultPort = "1080"

func init() {
	proxy.RegisterDialerType("socks4", fromURL)
	proxy.RegisterDialerType("socks4a", fromURL)
}

// New parses upstream and constructs the appropriate outbound Dialer.
//
// Supported schemes:
//   - direct://
//   - socks4://[userid@]host[:port]  (destination names resolved locally)
//   - socks4a://[userid@]host[:port] (destination names sent to the proxy)
//   - socks5://[user[:pass]@]host[:port]
//   - socks5h://[user[:pass]@]host[:port]
//
// Port 1080 is applied if the URL host is missing a port.
func New(ctx context.Context, cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, errors.Wrap(err, "invalid url")
	}
	if u.Scheme == "" {
		return nil, errors.New("invalid url: missing scheme")
	}
	if strings.EqualFold(u.Scheme, "direct") {
		return NewDirectDialer(cfg), nil
	}

	c, err := newFromURL(ctx, cfg, u)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newFromURL(ctx context.Context, cfg Config, u *url.URL) (*Connector, error) {
	scheme := strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid url: path should be empty")
	}
	host := u.Hostname()
	if host == "" {
		return nil, errors.New("invalid url: missing host")
	}
	port := u.Port()
	if port == "" {
		port = DefaultPort
	}
	proxyAddr := net.JoinHostPort(host, port)

	var user, pass string
	var hasPass bool
	if u.User != nil {
		user = u.User.Username()
		pass, hasPass = u.User.Password()
	}

	switch scheme {
	case "socks4", "socks4a":
		if hasPass {
			return nil, &socks.Error{Op: "socks4 connect", Addr: proxyAddr, Kind: socks.ErrInvalidCredential, Err: errors.New("socks4 has no password")}
		}
		c, err := NewSOCKS4(ctx, cfg, proxyAddr, user)
		if err != nil {
			return nil, err
		}
		c.localDNS = scheme == "socks4"
		return c, nil
	case "socks5", "socks5h":
		return NewSOCKS5(ctx, cfg, proxyAddr, socks.Credentials{Username: user, Password: pass})
	default:
		return nil, errors.Errorf("invalid url scheme: %q", u.Scheme)
	}
}

// fromURL lets proxy.FromURL build SOCKS4 dialers, reaching the proxy
// through forward.
func fromURL(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	var cfg Config
	if forward != nil {
		cd, ok := forward.(proxy.ContextDialer)
		if !ok {
			cd = dialOnly{forward}
		}
		cfg.Forward = cd
	}

	c, err := newFromURL(context.Background(), cfg, u)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// dialOnly adapts a proxy.Dialer without DialContext. Cancellation only
// takes effect once the dial returns.
type dialOnly struct {
	d proxy.Dialer
}

func (d dialOnly) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := d.d.Dial(network, address)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
