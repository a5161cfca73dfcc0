package socks4

import (
	"encoding/binary"
	"net/netip"
	"strings"

	"github.com/pkg/errors"

	"github.com/die-net/socksconnect/internal/socks"
)

const (
	Version    = 0x04
	CmdConnect = 0x01

	StatusGranted       = 0x5a
	StatusRejected      = 0x5b
	StatusNoIdentd      = 0x5c
	StatusIdentMismatch = 0x5d

	// ReplyLen is the fixed size of a SOCKS4 reply.
	ReplyLen = 8
)

// State is a step of the SOCKS4 handshake.
type State uint8

const (
	StateSendRequest State = iota
	StateAwaitReply
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSendRequest:
		return "send-request"
	case StateAwaitReply:
		return "await-reply"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handshake is the client state machine for one SOCKS4 CONNECT.
type Handshake struct {
	state State
	req   []byte
	bound socks.Addr
}

// NewHandshake validates dst and userID and prepares the request.
//
// IPv6 destinations fail with socks.ErrUnsupportedAddress. Domain names are
// sent with the SOCKS4a encoding.
func NewHandshake(dst socks.Addr, userID string) (*Handshake, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	req, err := AppendRequest(nil, dst, userID)
	if err != nil {
		return nil, err
	}
	return &Handshake{req: req}, nil
}

// ValidateUserID checks that userID can be sent as a NUL-terminated field.
func ValidateUserID(userID string) error {
	if strings.IndexByte(userID, 0) >= 0 {
		return &socks.Error{Op: "socks4 connect", Kind: socks.ErrInvalidCredential, Err: errors.New("userid contains NUL")}
	}
	return nil
}

// AppendRequest appends the CONNECT request for dst to b:
//
//	VN=4 CD=1 DSTPORT(2) DSTIP(4) USERID NUL [DOMAIN NUL]
//
// For a domain destination DSTIP is 0.0.0.1 and the name follows the userid.
func AppendRequest(b []byte, dst socks.Addr, userID string) ([]byte, error) {
	b = append(b, Version, CmdConnect)
	b = binary.BigEndian.AppendUint16(b, dst.Port)

	switch dst.Type {
	case socks.AddrIPv4:
		ip := dst.IP.As4()
		b = append(b, ip[:]...)
		b = append(b, userID...)
		b = append(b, 0)
	case socks.AddrDomain:
		if dst.Name == "" || strings.IndexByte(dst.Name, 0) >= 0 {
			return nil, &socks.Error{Op: "socks4 connect", Addr: dst.String(), Kind: socks.ErrUnsupportedAddress}
		}
		b = append(b, 0, 0, 0, 1)
		b = append(b, userID...)
		b = append(b, 0)
		b = append(b, dst.Name...)
		b = append(b, 0)
	case socks.AddrIPv6:
		return nil, &socks.Error{Op: "socks4 connect", Addr: dst.String(), Kind: socks.ErrUnsupportedAddress, Err: errors.New("socks4 cannot carry IPv6 addresses")}
	default:
		return nil, &socks.Error{Op: "socks4 connect", Kind: socks.ErrUnsupportedAddress, Err: errors.Errorf("address type %s", dst.Type)}
	}
	return b, nil
}

// State returns the current state.
func (h *Handshake) State() State {
	return h.state
}

// Bound returns the address from a granted reply. Many servers send zeros.
func (h *Handshake) Bound() socks.Addr {
	return h.bound
}

// Phase implements socks.Machine. SOCKS4 has a single request/reply phase.
func (h *Handshake) Phase() string {
	return "socks4 connect"
}

// Start returns the request and asks for the 8-byte reply.
func (h *Handshake) Start() ([]byte, int, error) {
	if h.state != StateSendRequest {
		return nil, 0, errors.Errorf("socks4: start in state %s", h.state)
	}
	h.state = StateAwaitReply
	return h.req, ReplyLen, nil
}

// Next consumes the reply. Byte 0 must be 0 (some servers send 4), byte 1
// is the status, and a granted reply carries the bound port and IPv4 address.
func (h *Handshake) Next(in []byte) ([]byte, int, error) {
	if h.state != StateAwaitReply {
		return nil, 0, errors.Errorf("socks4: input in state %s", h.state)
	}
	if len(in) < ReplyLen {
		return nil, 0, h.fail(socks.ErrTruncatedReply, errors.Errorf("reply is %d bytes", len(in)))
	}
	if in[0] != 0x00 && in[0] != Version {
		return nil, 0, h.fail(socks.ErrMalformedReply, errors.Errorf("reply version 0x%02x", in[0]))
	}

	switch in[1] {
	case StatusGranted:
		h.bound = socks.Addr{
			Type: socks.AddrIPv4,
			IP:   netip.AddrFrom4([4]byte(in[4:8])),
			Port: binary.BigEndian.Uint16(in[2:4]),
		}
		h.state = StateDone
		return nil, 0, nil
	case StatusRejected, StatusNoIdentd, StatusIdentMismatch:
		return nil, 0, h.fail(socks.ErrHandshakeRejected, &socks.RejectedError{Version: 4, Code: in[1]})
	default:
		return nil, 0, h.fail(socks.ErrMalformedReply, errors.Errorf("unknown status 0x%02x", in[1]))
	}
}

func (h *Handshake) fail(kind, err error) error {
	h.state = StateFailed
	return &socks.Error{Op: h.Phase(), Kind: kind, Err: err}
}
