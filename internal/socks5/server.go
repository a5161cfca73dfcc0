package socks5

import (
	"net"
	"os"
	"slices"
	"syscall"

	"github.com/pkg/errors"
	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/socksconnect/internal/socks"
)

// ServerNegotiate reads the client's method selection and, if creds is
// non-zero, requires and checks username/password authentication.
func ServerNegotiate(conn net.Conn, creds socks.Credentials) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return errors.Wrap(err, "negotiation request")
	}

	if !creds.IsZero() {
		if !slices.Contains(neg.Methods, txsocks5.MethodUsernamePassword) {
			writeNoAcceptableMethods(conn)
			return errors.New("client does not support username/password")
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(conn); err != nil {
			return errors.Wrap(err, "negotiation reply")
		}

		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return errors.Wrap(err, "read userpass")
		}
		if string(urq.Uname) != creds.Username || string(urq.Passwd) != creds.Password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
			return errors.New("auth failed")
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
			return errors.Wrap(err, "write userpass")
		}
		return nil
	}

	if !slices.Contains(neg.Methods, txsocks5.MethodNone) {
		writeNoAcceptableMethods(conn)
		return errors.New("client does not support no-auth")
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(conn); err != nil {
		return errors.Wrap(err, "negotiation reply")
	}
	return nil
}

// ServerReadRequest reads the client's request.
func ServerReadRequest(conn net.Conn) (*txsocks5.Request, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, errors.Wrap(err, "request")
	}
	return req, nil
}

// WriteSuccessReply writes a success reply using bound as BND.ADDR/BND.PORT.
func WriteSuccessReply(conn net.Conn, bound net.Addr) error {
	a, addr, port, err := txsocks5.ParseAddress(bound.String())
	if err != nil {
		return errors.Wrapf(err, "parse bound address %q", bound.String())
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port).WriteTo(conn); err != nil {
		return errors.Wrap(err, "success reply")
	}
	return nil
}

// WriteFailureReply writes a reply with status rep and a zero bound address
// of the same family as atyp.
func WriteFailureReply(conn net.Conn, rep, atyp byte) {
	_, _ = newZeroAddrReply(rep, atyp).WriteTo(conn)
}

// ReplyCode maps an error from dialing the destination to the reply status
// sent back to a SOCKS5 client. A rejection from an upstream SOCKS5 proxy is
// passed through unchanged.
func ReplyCode(err error) byte {
	var rej *socks.RejectedError
	if errors.As(err, &rej) && rej.Version == 5 {
		return rej.Code
	}

	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return RepConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return RepNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH), errors.As(err, &dnsErr), errors.Is(err, os.ErrDeadlineExceeded):
		return RepHostUnreachable
	case errors.Is(err, socks.ErrUnsupportedAddress):
		return RepAddressTypeNotSupported
	case errors.Is(err, socks.ErrHandshakeRejected):
		return RepConnectionNotAllowed
	default:
		return RepGeneralFailure
	}
}

func newZeroAddrReply(rep, atyp byte) *txsocks5.Reply {
	if atyp == txsocks5.ATYPIPv6 {
		return txsocks5.NewReply(rep, txsocks5.ATYPIPv6, []byte(net.IPv6zero), []byte{0x00, 0x00})
	}
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

func writeNoAcceptableMethods(conn net.Conn) {
	// RFC 1928: 0xFF indicates no acceptable methods.
	_, _ = txsocks5.NewNegotiationReply(MethodNoAcceptable).WriteTo(conn)
}
