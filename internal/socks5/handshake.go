package socks5

import (
	"github.com/pkg/errors"

	"github.com/die-net/socksconnect/internal/socks"
)

const (
	Version = 0x05

	MethodNone         = 0x00
	MethodUserPass     = 0x02
	MethodNoAcceptable = 0xff

	// UserPassVersion is the sub-negotiation version from RFC 1929.
	UserPassVersion = 0x01

	CmdConnect = 0x01

	RepSuccess                 = 0x00
	RepGeneralFailure          = 0x01
	RepConnectionNotAllowed    = 0x02
	RepNetworkUnreachable      = 0x03
	RepHostUnreachable         = 0x04
	RepConnectionRefused       = 0x05
	RepTTLExpired              = 0x06
	RepCommandNotSupported     = 0x07
	RepAddressTypeNotSupported = 0x08
)

// State is a step of the SOCKS5 handshake. Each waiting state is named for
// the reply it expects.
type State uint8

const (
	StateMethodNegotiation State = iota
	StateAuthentication
	StateRequest
	StateReplyAddrLen
	StateReplyAddr
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateMethodNegotiation:
		return "method-negotiation"
	case StateAuthentication:
		return "authentication"
	case StateRequest:
		return "request"
	case StateReplyAddrLen:
		return "reply-addr-len"
	case StateReplyAddr:
		return "reply-addr"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handshake is the client state machine for one SOCKS5 CONNECT.
type Handshake struct {
	state   State
	started bool
	failed  State // state in which the failure happened

	method byte
	creds  socks.Credentials
	req    []byte

	boundType socks.AddrType
	bound     socks.Addr
}

// NewHandshake validates creds and dst and prepares the CONNECT request.
//
// Exactly one method is offered: username/password when creds is non-zero,
// otherwise no authentication.
func NewHandshake(dst socks.Addr, creds socks.Credentials) (*Handshake, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	req := []byte{Version, CmdConnect, 0x00}
	req, err := AppendAddr(req, dst)
	if err != nil {
		return nil, err
	}

	method := byte(MethodNone)
	if !creds.IsZero() {
		method = MethodUserPass
	}
	return &Handshake{method: method, creds: creds, req: req}, nil
}

// State returns the current state.
func (h *Handshake) State() State {
	return h.state
}

// Bound returns the address the proxy reported binding for the relay. It is
// only meaningful once the handshake is done.
func (h *Handshake) Bound() socks.Addr {
	return h.bound
}

// Phase implements socks.Machine.
func (h *Handshake) Phase() string {
	s := h.state
	if s == StateFailed {
		s = h.failed
	}
	switch s {
	case StateMethodNegotiation:
		return "socks5 negotiate"
	case StateAuthentication:
		return "socks5 authenticate"
	default:
		return "socks5 connect"
	}
}

// Start returns the method-selection message and asks for its 2-byte reply.
func (h *Handshake) Start() ([]byte, int, error) {
	if h.started {
		return nil, 0, errors.Errorf("socks5: start in state %s", h.state)
	}
	h.started = true
	h.state = StateMethodNegotiation
	return []byte{Version, 1, h.method}, 2, nil
}

// Next consumes the bytes requested by the previous step.
func (h *Handshake) Next(in []byte) ([]byte, int, error) {
	if !h.started {
		return nil, 0, errors.New("socks5: input before start")
	}

	switch h.state {
	case StateMethodNegotiation:
		return h.onMethodReply(in)
	case StateAuthentication:
		return h.onAuthReply(in)
	case StateRequest:
		return h.onReplyHeader(in)
	case StateReplyAddrLen:
		return h.onReplyAddrLen(in)
	case StateReplyAddr:
		return h.onReplyAddr(in)
	default:
		return nil, 0, errors.Errorf("socks5: input in state %s", h.state)
	}
}

// VER METHOD
func (h *Handshake) onMethodReply(in []byte) ([]byte, int, error) {
	if len(in) != 2 {
		return nil, 0, h.fail(socks.ErrTruncatedReply, errors.Errorf("method reply is %d bytes", len(in)))
	}
	if in[0] != Version {
		return nil, 0, h.fail(socks.ErrMalformedReply, errors.Errorf("reply version 0x%02x", in[0]))
	}

	switch {
	case in[1] == MethodNoAcceptable:
		return nil, 0, h.fail(socks.ErrNoAcceptableAuthMethod, nil)
	case in[1] != h.method:
		return nil, 0, h.fail(socks.ErrAuthMethodMismatch, errors.Errorf("offered 0x%02x, selected 0x%02x", h.method, in[1]))
	case h.method == MethodUserPass:
		h.state = StateAuthentication
		return h.authRequest(), 2, nil
	default:
		h.state = StateRequest
		return h.req, 4, nil
	}
}

// VER ULEN UNAME PLEN PASSWD
func (h *Handshake) authRequest() []byte {
	b := make([]byte, 0, 3+len(h.creds.Username)+len(h.creds.Password))
	b = append(b, UserPassVersion, byte(len(h.creds.Username)))
	b = append(b, h.creds.Username...)
	b = append(b, byte(len(h.creds.Password)))
	b = append(b, h.creds.Password...)
	return b
}

// VER STATUS. Some servers answer with VER=5; accept it.
func (h *Handshake) onAuthReply(in []byte) ([]byte, int, error) {
	if len(in) != 2 {
		return nil, 0, h.fail(socks.ErrTruncatedReply, errors.Errorf("auth reply is %d bytes", len(in)))
	}
	if in[0] != UserPassVersion && in[0] != Version {
		return nil, 0, h.fail(socks.ErrMalformedReply, errors.Errorf("auth reply version 0x%02x", in[0]))
	}
	if in[1] != 0x00 {
		return nil, 0, h.fail(socks.ErrAuthenticationFailed, errors.Errorf("status 0x%02x", in[1]))
	}

	h.state = StateRequest
	return h.req, 4, nil
}

// VER REP RSV ATYP
func (h *Handshake) onReplyHeader(in []byte) ([]byte, int, error) {
	if len(in) != 4 {
		return nil, 0, h.fail(socks.ErrTruncatedReply, errors.Errorf("reply header is %d bytes", len(in)))
	}
	if in[0] != Version {
		return nil, 0, h.fail(socks.ErrMalformedReply, errors.Errorf("reply version 0x%02x", in[0]))
	}

	switch rep := in[1]; {
	case rep == RepSuccess:
	case rep >= RepGeneralFailure && rep <= RepAddressTypeNotSupported:
		return nil, 0, h.fail(socks.ErrHandshakeRejected, &socks.RejectedError{Version: 5, Code: rep})
	default:
		return nil, 0, h.fail(socks.ErrMalformedReply, errors.Errorf("unknown reply code 0x%02x", rep))
	}

	h.boundType = socks.AddrType(in[3])
	switch h.boundType {
	case socks.AddrIPv4:
		h.state = StateReplyAddr
		return nil, 4 + 2, nil
	case socks.AddrIPv6:
		h.state = StateReplyAddr
		return nil, 16 + 2, nil
	case socks.AddrDomain:
		h.state = StateReplyAddrLen
		return nil, 1, nil
	default:
		return nil, 0, h.fail(socks.ErrMalformedReply, errors.Errorf("unknown bound address type 0x%02x", in[3]))
	}
}

func (h *Handshake) onReplyAddrLen(in []byte) ([]byte, int, error) {
	if len(in) != 1 {
		return nil, 0, h.fail(socks.ErrTruncatedReply, errors.New("missing bound domain length"))
	}
	h.state = StateReplyAddr
	return nil, int(in[0]) + 2, nil
}

// BND.ADDR BND.PORT
func (h *Handshake) onReplyAddr(in []byte) ([]byte, int, error) {
	a, err := parseAddr(h.boundType, in)
	if err != nil {
		return nil, 0, h.fail(socks.ErrMalformedReply, err)
	}
	h.bound = a
	h.state = StateDone
	return nil, 0, nil
}

func (h *Handshake) fail(kind, err error) error {
	h.failed = h.state
	h.state = StateFailed
	return &socks.Error{Op: h.Phase(), Kind: kind, Err: err}
}
