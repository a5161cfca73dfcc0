package socks

import (
	"bytes"
	"io"
	"net/netip"
	"os"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		host     string
		wantType AddrType
		wantHost string
		wantErr  error
	}{
		{name: "ipv4", host: "10.0.0.5", wantType: AddrIPv4, wantHost: "10.0.0.5"},
		{name: "ipv6", host: "2001:db8::1", wantType: AddrIPv6, wantHost: "2001:db8::1"},
		{name: "ipv4-mapped ipv6", host: "::ffff:192.0.2.1", wantType: AddrIPv4, wantHost: "192.0.2.1"},
		{name: "zone dropped", host: "fe80::1%eth0", wantType: AddrIPv6, wantHost: "fe80::1"},
		{name: "domain", host: "example.com", wantType: AddrDomain, wantHost: "example.com"},
		{name: "empty", host: "", wantErr: ErrUnsupportedAddress},
		{name: "too long", host: strings.Repeat("a", MaxDomainLen+1), wantErr: ErrUnsupportedAddress},
		{name: "max length", host: strings.Repeat("a", MaxDomainLen), wantType: AddrDomain, wantHost: strings.Repeat("a", MaxDomainLen)},
		{name: "nul", host: "exa\x00mple.com", wantErr: ErrUnsupportedAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, err := ParseAddr(tt.host, 80)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, a.Type)
			assert.Equal(t, tt.wantHost, a.Host())
			assert.Equal(t, uint16(80), a.Port)
		})
	}
}

func TestSplitAddr(t *testing.T) {
	t.Parallel()

	a, err := SplitAddr("[2001:db8::1]:443")
	require.NoError(t, err)
	assert.Equal(t, Addr{Type: AddrIPv6, IP: netip.MustParseAddr("2001:db8::1"), Port: 443}, a)
	assert.Equal(t, "[2001:db8::1]:443", a.String())

	_, err = SplitAddr("example.com")
	require.ErrorIs(t, err, ErrUnsupportedAddress)

	_, err = SplitAddr("example.com:65536")
	require.ErrorIs(t, err, ErrUnsupportedAddress)

	_, err = SplitAddr("example.com:http")
	require.ErrorIs(t, err, ErrUnsupportedAddress)
}

func TestCredentialsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Credentials{}.Validate())
	require.NoError(t, Credentials{Username: "user", Password: "p"}.Validate())
	require.NoError(t, Credentials{Username: strings.Repeat("u", 255), Password: strings.Repeat("p", 255)}.Validate())

	require.ErrorIs(t, Credentials{Username: strings.Repeat("u", 256)}.Validate(), ErrCredentialTooLong)
	require.ErrorIs(t, Credentials{Username: "u", Password: strings.Repeat("p", 256)}.Validate(), ErrCredentialTooLong)
	require.ErrorIs(t, Credentials{Password: "secret"}.Validate(), ErrInvalidCredential)
	require.ErrorIs(t, Credentials{Username: "user"}.Validate(), ErrInvalidCredential)

	assert.Equal(t, "none", Credentials{}.String())
	assert.NotContains(t, Credentials{Username: "user", Password: "secret"}.String(), "secret")
}

func TestErrorMatching(t *testing.T) {
	t.Parallel()

	rej := &RejectedError{Version: 5, Code: 0x05}
	err := errors.Wrap(&Error{Op: "socks5 connect", Addr: "127.0.0.1:1080", Kind: ErrHandshakeRejected, Err: rej}, "dial example.org:80")

	require.ErrorIs(t, err, ErrHandshakeRejected)
	require.NotErrorIs(t, err, ErrTruncatedReply)

	var got *RejectedError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, byte(0x05), got.Code)
	assert.Equal(t, "connection refused", got.Reason())
	assert.Equal(t, "dial example.org:80: socks5 connect 127.0.0.1:1080: request rejected: socks5: connection refused (0x05)", err.Error())

	timeout := &Error{Op: "socks4 connect", Kind: ErrTruncatedReply, Err: os.ErrDeadlineExceeded}
	require.ErrorIs(t, timeout, ErrTruncatedReply)
	require.ErrorIs(t, timeout, os.ErrDeadlineExceeded)
}

func TestRejectedErrorReasons(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, code := range []byte{0x5b, 0x5c, 0x5d} {
		r := (&RejectedError{Version: 4, Code: code}).Reason()
		assert.False(t, seen[r], "duplicate reason %q", r)
		seen[r] = true
	}
	for code := byte(0x01); code <= 0x08; code++ {
		r := (&RejectedError{Version: 5, Code: code}).Reason()
		assert.NotEqual(t, "unknown failure", r)
		assert.False(t, seen[r], "duplicate reason %q", r)
		seen[r] = true
	}
	assert.Equal(t, "unknown failure", (&RejectedError{Version: 5, Code: 0x42}).Reason())
}

// echoMachine writes "ping", expects "pong", and then finishes.
type echoMachine struct {
	done bool
}

func (m *echoMachine) Start() ([]byte, int, error) { return []byte("ping"), 4, nil }

func (m *echoMachine) Next(in []byte) ([]byte, int, error) {
	if string(in) != "pong" {
		return nil, 0, &Error{Op: m.Phase(), Kind: ErrMalformedReply}
	}
	m.done = true
	return nil, 0, nil
}

func (m *echoMachine) Phase() string { return "echo" }

type fakeConn struct {
	io.Reader
	bytes.Buffer
}

func (c *fakeConn) Read(p []byte) (int, error) { return c.Reader.Read(p) }

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("does not over-read", func(t *testing.T) {
		t.Parallel()

		r := bytes.NewReader([]byte("pongpayload"))
		c := &fakeConn{Reader: r}
		m := &echoMachine{}
		require.NoError(t, Run(c, m))
		assert.True(t, m.done)
		assert.Equal(t, "ping", c.String())

		rest, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(rest))
	})

	t.Run("short reply", func(t *testing.T) {
		t.Parallel()

		err := Run(&fakeConn{Reader: strings.NewReader("po")}, &echoMachine{})
		require.ErrorIs(t, err, ErrTruncatedReply)
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("machine error", func(t *testing.T) {
		t.Parallel()

		err := Run(&fakeConn{Reader: strings.NewReader("pang")}, &echoMachine{})
		require.ErrorIs(t, err, ErrMalformedReply)
	})
}
