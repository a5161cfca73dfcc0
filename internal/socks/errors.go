package socks

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrAddressResolution      = errors.New("address resolution failed")
	ErrUnsupportedScheme      = errors.New("unsupported scheme")
	ErrProxyUnreachable       = errors.New("proxy unreachable")
	ErrUnsupportedAddress     = errors.New("unsupported address")
	ErrCredentialTooLong      = errors.New("credential longer than 255 bytes")
	ErrInvalidCredential      = errors.New("invalid credential")
	ErrNoAcceptableAuthMethod = errors.New("no acceptable authentication method")
	ErrAuthMethodMismatch     = errors.New("proxy selected an authentication method that was not offered")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrTruncatedReply         = errors.New("truncated reply")
	ErrMalformedReply         = errors.New("malformed reply")
	ErrHandshakeRejected      = errors.New("request rejected")
)

// Error describes a failed proxy operation.
//
// Kind is one of the sentinel errors in this package and Err, if non-nil,
// is the underlying cause. Both match with errors.Is, so a caller can test
// for ErrTruncatedReply and for os.ErrDeadlineExceeded on the same error.
type Error struct {
	// Op names the phase that failed, e.g. "socks5 authenticate" or "dial".
	Op string
	// Addr is the proxy (or destination) address involved, if known.
	Addr string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Addr != "" {
		b.WriteString(" ")
		b.WriteString(e.Addr)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// RejectedError is returned when the proxy answers a CONNECT request with a
// failure status.
type RejectedError struct {
	// Version is 4 or 5.
	Version int
	// Code is the status byte from the proxy's reply.
	Code byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("socks%d: %s (0x%02x)", e.Version, e.Reason(), e.Code)
}

// Is reports whether target is ErrHandshakeRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrHandshakeRejected
}

// Reason returns the human-readable meaning of Code.
func (e *RejectedError) Reason() string {
	var reasons map[byte]string
	switch e.Version {
	case 4:
		reasons = socks4Reasons
	case 5:
		reasons = socks5Reasons
	}
	if r, ok := reasons[e.Code]; ok {
		return r
	}
	return "unknown failure"
}

var socks4Reasons = map[byte]string{
	0x5b: "request rejected or failed",
	0x5c: "request rejected because the proxy cannot reach identd on the client",
	0x5d: "request rejected because identd reported a different user-id",
}

// RFC 1928 section 6.
var socks5Reasons = map[byte]string{
	0x01: "general SOCKS server failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}
