package testutil

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/die-net/socksconnect/internal/socks"
	"github.com/die-net/socksconnect/internal/socks5"
)

// SOCKS4Request is a CONNECT request as read by a mock SOCKS4 server.
type SOCKS4Request struct {
	Version byte
	Cmd     byte
	Port    uint16
	IP      netip.Addr
	UserID  string
	// Domain is set for SOCKS4a requests (IP 0.0.0.x, x != 0).
	Domain string
	// Raw is every byte of the request as received.
	Raw []byte
}

// Address returns the destination as "host:port".
func (r SOCKS4Request) Address() string {
	host := r.IP.String()
	if r.Domain != "" {
		host = r.Domain
	}
	return net.JoinHostPort(host, strconv.Itoa(int(r.Port)))
}

// ReadSOCKS4Request reads exactly one SOCKS4 or SOCKS4a request from r.
func ReadSOCKS4Request(r io.Reader) (SOCKS4Request, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return SOCKS4Request{}, errors.Wrap(err, "socks4 header")
	}

	req := SOCKS4Request{
		Version: hdr[0],
		Cmd:     hdr[1],
		Port:    binary.BigEndian.Uint16(hdr[2:4]),
		IP:      netip.AddrFrom4([4]byte(hdr[4:8])),
		Raw:     hdr[:],
	}

	userID, err := readCString(r)
	if err != nil {
		return req, errors.Wrap(err, "socks4 userid")
	}
	req.UserID = userID
	req.Raw = append(append(req.Raw, userID...), 0)

	if ip := req.IP.As4(); ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0 {
		domain, err := readCString(r)
		if err != nil {
			return req, errors.Wrap(err, "socks4a domain")
		}
		req.Domain = domain
		req.Raw = append(append(req.Raw, domain...), 0)
	}
	return req, nil
}

func readCString(r io.Reader) (string, error) {
	var b []byte
	var c [1]byte
	for len(b) <= socks.MaxDomainLen {
		if _, err := io.ReadFull(r, c[:]); err != nil {
			return "", err
		}
		if c[0] == 0 {
			return string(b), nil
		}
		b = append(b, c[0])
	}
	return "", errors.New("field too long")
}

// WriteSOCKS4Reply writes an 8-byte reply with the given status.
func WriteSOCKS4Reply(w io.Writer, status byte) error {
	_, err := w.Write([]byte{0x00, status, 0, 0, 0, 0, 0, 0})
	return err
}

// HandleSOCKS4Connect serves one SOCKS4 CONNECT on c: it dials the
// requested destination, replies, and relays until either side closes.
// Requests whose userid differs from userID are answered with 0x5d.
func HandleSOCKS4Connect(ctx context.Context, c net.Conn, userID string) error {
	req, err := ReadSOCKS4Request(c)
	if err != nil {
		return err
	}
	if req.UserID != userID {
		return WriteSOCKS4Reply(c, 0x5d)
	}

	var d net.Dialer
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		_ = WriteSOCKS4Reply(c, 0x5b)
		return nil
	}
	defer dst.Close()

	if err := WriteSOCKS4Reply(c, 0x5a); err != nil {
		return err
	}
	Relay(c, dst)
	return nil
}

// HandleSOCKS5Connect serves one SOCKS5 CONNECT on c, requiring creds if
// they are non-zero, then relays until either side closes.
func HandleSOCKS5Connect(ctx context.Context, c net.Conn, creds socks.Credentials) error {
	if err := socks5.ServerNegotiate(c, creds); err != nil {
		return err
	}

	req, err := socks5.ServerReadRequest(c)
	if err != nil {
		return err
	}
	if req.Cmd != socks5.CmdConnect {
		socks5.WriteFailureReply(c, socks5.RepCommandNotSupported, req.Atyp)
		return nil
	}

	var d net.Dialer
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		socks5.WriteFailureReply(c, socks5.ReplyCode(err), req.Atyp)
		return nil
	}
	defer dst.Close()

	if err := socks5.WriteSuccessReply(c, dst.LocalAddr()); err != nil {
		return err
	}
	Relay(c, dst)
	return nil
}

// Relay copies between a and b until both directions finish.
func Relay(a, b net.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(b, a)
		_ = b.Close()
	}()
	_, _ = io.Copy(a, b)
	_ = a.Close()
	<-done
}

// PipeDialer is a proxy.ContextDialer whose connections are in-memory
// pipes served by Handler. It records every address it is asked to dial.
type PipeDialer struct {
	// Handler serves the far end of each pipe. The far end is closed when
	// Handler returns.
	Handler func(net.Conn)
	// Refuse lists addresses that fail to dial.
	Refuse map[string]error

	mu     sync.Mutex
	dialed []string
}

func (d *PipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, address)
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := d.Refuse[address]; ok {
		return nil, err
	}

	client, server := net.Pipe()
	go func() {
		defer server.Close()
		if d.Handler != nil {
			d.Handler(server)
		}
	}()
	return client, nil
}

// Dialed returns the addresses dialed so far, in order.
func (d *PipeDialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}
