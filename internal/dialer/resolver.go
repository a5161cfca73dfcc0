package dialer

import (
	"context"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/die-net/socksconnect/internal/socks"
)

// Lookuper resolves host names. *net.Resolver satisfies it.
type Lookuper interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Resolver wraps a Lookuper, collapsing concurrent lookups of the same name
// and caching answers for a fixed TTL.
type Resolver struct {
	lookup Lookuper
	cache  *cache.Cache
	sf     singleflight.Group
}

// NewResolver returns a Resolver over lookup (net.DefaultResolver if nil).
// A ttl of zero or less disables caching.
func NewResolver(lookup Lookuper, ttl time.Duration) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	r := &Resolver{lookup: lookup}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

// LookupNetIP implements Lookuper.
//
// The shared lookup runs detached from any one caller's cancellation so
// that other waiters still get the answer; a canceled caller returns early.
func (r *Resolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	key := network + "/" + host
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return slices.Clone(v.([]netip.Addr)), nil
		}
	}

	ch := r.sf.DoChan(key, func() (any, error) {
		addrs, err := r.lookup.LookupNetIP(context.WithoutCancel(ctx), network, host)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			r.cache.SetDefault(key, addrs)
		}
		return addrs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]netip.Addr)), nil
	}
}

// ResolveAddrPort resolves a "host:port" proxy location to every address it
// names, in resolver order. It fails with socks.ErrAddressResolution if
// there are none.
func (r *Resolver) ResolveAddrPort(ctx context.Context, hostport string) ([]netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, &socks.Error{Op: "resolve", Addr: hostport, Kind: socks.ErrAddressResolution, Err: err}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, &socks.Error{Op: "resolve", Addr: hostport, Kind: socks.ErrAddressResolution, Err: errors.Wrap(err, "port")}
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(ip.Unmap(), uint16(port))}, nil
	}

	ips, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, &socks.Error{Op: "resolve", Addr: hostport, Kind: socks.ErrAddressResolution, Err: err}
	}
	if len(ips) == 0 {
		return nil, &socks.Error{Op: "resolve", Addr: hostport, Kind: socks.ErrAddressResolution, Err: errors.New("no addresses")}
	}

	aps := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		aps = append(aps, netip.AddrPortFrom(ip.Unmap(), uint16(port)))
	}
	return aps, nil
}

// LookupIPv4 returns the first IPv4 address for host, for SOCKS4 proxies
// that cannot resolve names themselves.
func (r *Resolver) LookupIPv4(ctx context.Context, host string) (netip.Addr, error) {
	ips, err := r.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, &socks.Error{Op: "resolve", Addr: host, Kind: socks.ErrAddressResolution, Err: err}
	}
	for _, ip := range ips {
		if ip = ip.Unmap(); ip.Is4() {
			return ip, nil
		}
	}
	return netip.Addr{}, &socks.Error{Op: "resolve", Addr: host, Kind: socks.ErrUnsupportedAddress, Err: errors.New("no IPv4 address")}
}
