package socks5

import (
	"encoding/binary"
	"io"
	"net/netip"

	"github.com/pkg/errors"

	"github.com/die-net/socksconnect/internal/socks"
)

// AppendAddr appends ATYP, the address and the port of a to b.
func AppendAddr(b []byte, a socks.Addr) ([]byte, error) {
	switch a.Type {
	case socks.AddrIPv4:
		if !a.IP.Is4() {
			return nil, errors.Errorf("socks5: ipv4 address type with %s", a.IP)
		}
		ip := a.IP.As4()
		b = append(b, byte(socks.AddrIPv4))
		b = append(b, ip[:]...)
	case socks.AddrIPv6:
		if !a.IP.Is6() {
			return nil, errors.Errorf("socks5: ipv6 address type with %s", a.IP)
		}
		ip := a.IP.As16()
		b = append(b, byte(socks.AddrIPv6))
		b = append(b, ip[:]...)
	case socks.AddrDomain:
		if len(a.Name) == 0 || len(a.Name) > socks.MaxDomainLen {
			return nil, &socks.Error{Op: "socks5 connect", Kind: socks.ErrUnsupportedAddress, Err: errors.Errorf("domain name is %d bytes", len(a.Name))}
		}
		b = append(b, byte(socks.AddrDomain), byte(len(a.Name)))
		b = append(b, a.Name...)
	default:
		return nil, &socks.Error{Op: "socks5 connect", Kind: socks.ErrUnsupportedAddress, Err: errors.Errorf("address type %s", a.Type)}
	}
	return binary.BigEndian.AppendUint16(b, a.Port), nil
}

// ReadAddr reads ATYP, the address and the port from r.
func ReadAddr(r io.Reader) (socks.Addr, error) {
	var atyp [1]byte
	if _, err := io.ReadFull(r, atyp[:]); err != nil {
		return socks.Addr{}, errors.Wrap(err, "read address type")
	}

	var n int
	switch socks.AddrType(atyp[0]) {
	case socks.AddrIPv4:
		n = 4
	case socks.AddrIPv6:
		n = 16
	case socks.AddrDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return socks.Addr{}, errors.Wrap(err, "read domain length")
		}
		n = int(l[0])
	default:
		return socks.Addr{}, errors.Errorf("unknown address type 0x%02x", atyp[0])
	}

	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return socks.Addr{}, errors.Wrap(err, "read address")
	}
	return parseAddr(socks.AddrType(atyp[0]), buf)
}

// parseAddr decodes an address body followed by a 2-byte port. For
// AddrDomain b holds the name without its length prefix.
func parseAddr(atyp socks.AddrType, b []byte) (socks.Addr, error) {
	if len(b) < 2 {
		return socks.Addr{}, errors.Errorf("address is %d bytes", len(b))
	}
	body, port := b[:len(b)-2], binary.BigEndian.Uint16(b[len(b)-2:])

	switch atyp {
	case socks.AddrIPv4:
		if len(body) != 4 {
			return socks.Addr{}, errors.Errorf("ipv4 address is %d bytes", len(body))
		}
		return socks.Addr{Type: atyp, IP: netip.AddrFrom4([4]byte(body)), Port: port}, nil
	case socks.AddrIPv6:
		if len(body) != 16 {
			return socks.Addr{}, errors.Errorf("ipv6 address is %d bytes", len(body))
		}
		return socks.Addr{Type: atyp, IP: netip.AddrFrom16([16]byte(body)), Port: port}, nil
	case socks.AddrDomain:
		return socks.Addr{Type: atyp, Name: string(body), Port: port}, nil
	default:
		return socks.Addr{}, errors.Errorf("unknown address type 0x%02x", byte(atyp))
	}
}
