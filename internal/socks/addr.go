package socks

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// AddrType is the SOCKS5 ATYP value of an address. SOCKS4 reuses the same
// classification when deciding between a plain and a 4a request.
type AddrType byte

const (
	AddrIPv4   AddrType = 0x01
	AddrDomain AddrType = 0x03
	AddrIPv6   AddrType = 0x04
)

func (t AddrType) String() string {
	switch t {
	case AddrIPv4:
		return "ipv4"
	case AddrDomain:
		return "domain"
	case AddrIPv6:
		return "ipv6"
	default:
		return "atyp(" + strconv.Itoa(int(t)) + ")"
	}
}

// MaxDomainLen is the longest name a SOCKS5 request can carry.
const MaxDomainLen = 255

// Addr is a destination (or bound) address as carried in a SOCKS request or
// reply. For AddrDomain only Name is set; otherwise only IP is set.
type Addr struct {
	Type AddrType
	IP   netip.Addr
	Name string
	Port uint16
}

// ParseAddr classifies host as an IPv4 literal, IPv6 literal or domain name.
// IPv4-mapped IPv6 literals become IPv4 and zones are dropped, since neither
// protocol can express them.
func ParseAddr(host string, port uint16) (Addr, error) {
	if host == "" {
		return Addr{}, &Error{Op: "parse address", Kind: ErrUnsupportedAddress, Err: errors.New("empty host")}
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		ip = ip.Unmap().WithZone("")
		if ip.Is4() {
			return Addr{Type: AddrIPv4, IP: ip, Port: port}, nil
		}
		return Addr{Type: AddrIPv6, IP: ip, Port: port}, nil
	}

	if len(host) > MaxDomainLen {
		return Addr{}, &Error{Op: "parse address", Addr: host[:32] + "...", Kind: ErrUnsupportedAddress, Err: errors.Errorf("domain name is %d bytes", len(host))}
	}
	if strings.IndexByte(host, 0) >= 0 {
		return Addr{}, &Error{Op: "parse address", Kind: ErrUnsupportedAddress, Err: errors.New("domain name contains NUL")}
	}
	return Addr{Type: AddrDomain, Name: host, Port: port}, nil
}

// SplitAddr parses a "host:port" string with a numeric port.
func SplitAddr(address string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Addr{}, &Error{Op: "parse address", Addr: address, Kind: ErrUnsupportedAddress, Err: err}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, &Error{Op: "parse address", Addr: address, Kind: ErrUnsupportedAddress, Err: errors.Wrap(err, "port")}
	}
	return ParseAddr(host, uint16(port))
}

// Host returns the name or IP literal without the port.
func (a Addr) Host() string {
	if a.Type == AddrDomain {
		return a.Name
	}
	return a.IP.String()
}

// Network lets an Addr stand in for a net.Addr. SOCKS relays only TCP here.
func (a Addr) Network() string {
	return "tcp"
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.Port)))
}
