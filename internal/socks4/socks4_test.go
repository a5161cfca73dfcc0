package socks4

import (
	"bufio"
	"io"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksconnect/internal/socks"
)

func TestAppendRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		dst    socks.Addr
		userID string
		want   []byte
	}{
		{
			name:   "ipv4",
			dst:    socks.Addr{Type: socks.AddrIPv4, IP: netip.MustParseAddr("10.0.0.5"), Port: 22},
			userID: "bob",
			want:   []byte{0x04, 0x01, 0x00, 0x16, 10, 0, 0, 5, 'b', 'o', 'b', 0x00},
		},
		{
			name: "ipv4 empty userid",
			dst:  socks.Addr{Type: socks.AddrIPv4, IP: netip.MustParseAddr("192.0.2.1"), Port: 8080},
			want: []byte{0x04, 0x01, 0x1f, 0x90, 192, 0, 2, 1, 0x00},
		},
		{
			name:   "domain uses 4a",
			dst:    socks.Addr{Type: socks.AddrDomain, Name: "example.com", Port: 80},
			userID: "bob",
			want: append([]byte{0x04, 0x01, 0x00, 0x50, 0, 0, 0, 1, 'b', 'o', 'b', 0x00},
				append([]byte("example.com"), 0x00)...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := AppendRequest(nil, tt.dst, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewHandshakeRejectsInput(t *testing.T) {
	t.Parallel()

	_, err := NewHandshake(socks.Addr{Type: socks.AddrIPv6, IP: netip.MustParseAddr("2001:db8::1"), Port: 80}, "")
	require.ErrorIs(t, err, socks.ErrUnsupportedAddress)

	_, err = NewHandshake(socks.Addr{Type: socks.AddrIPv4, IP: netip.MustParseAddr("10.0.0.1"), Port: 80}, "b\x00b")
	require.ErrorIs(t, err, socks.ErrInvalidCredential)
}

func TestHandshakeReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		reply     []byte
		wantErr   error
		wantCode  byte
		wantBound string
	}{
		{name: "granted", reply: []byte{0x00, 0x5a, 0, 0, 0, 0, 0, 0}, wantBound: "0.0.0.0:0"},
		{name: "granted lenient version", reply: []byte{0x04, 0x5a, 0, 0, 0, 0, 0, 0}, wantBound: "0.0.0.0:0"},
		{name: "granted with bound address", reply: []byte{0x00, 0x5a, 0x1f, 0x90, 192, 0, 2, 1}, wantBound: "192.0.2.1:8080"},
		{name: "rejected", reply: []byte{0x00, 0x5b, 0, 0, 0, 0, 0, 0}, wantErr: socks.ErrHandshakeRejected, wantCode: 0x5b},
		{name: "no identd", reply: []byte{0x00, 0x5c, 0, 0, 0, 0, 0, 0}, wantErr: socks.ErrHandshakeRejected, wantCode: 0x5c},
		{name: "ident mismatch", reply: []byte{0x00, 0x5d, 0, 0, 0, 0, 0, 0}, wantErr: socks.ErrHandshakeRejected, wantCode: 0x5d},
		{name: "bad version", reply: []byte{0x05, 0x5a, 0, 0, 0, 0, 0, 0}, wantErr: socks.ErrMalformedReply},
		{name: "unknown status", reply: []byte{0x00, 0x10, 0, 0, 0, 0, 0, 0}, wantErr: socks.ErrMalformedReply},
		{name: "short", reply: []byte{0x00, 0x5a, 0}, wantErr: socks.ErrTruncatedReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, err := NewHandshake(socks.Addr{Type: socks.AddrIPv4, IP: netip.MustParseAddr("10.0.0.5"), Port: 22}, "bob")
			require.NoError(t, err)
			assert.Equal(t, StateSendRequest, h.State())

			out, need, err := h.Start()
			require.NoError(t, err)
			assert.NotEmpty(t, out)
			assert.Equal(t, ReplyLen, need)
			assert.Equal(t, StateAwaitReply, h.State())

			out, need, err = h.Next(tt.reply)
			assert.Empty(t, out)
			assert.Zero(t, need)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, StateDone, h.State())
				assert.Equal(t, tt.wantBound, h.Bound().String())
				return
			}

			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StateFailed, h.State())
			if tt.wantCode != 0 {
				var rej *socks.RejectedError
				require.ErrorAs(t, err, &rej)
				assert.Equal(t, tt.wantCode, rej.Code)
				assert.Equal(t, 4, rej.Version)
			}
		})
	}
}

func TestHandshakeOutOfOrder(t *testing.T) {
	t.Parallel()

	h, err := NewHandshake(socks.Addr{Type: socks.AddrDomain, Name: "example.com", Port: 80}, "")
	require.NoError(t, err)

	_, _, err = h.Next(make([]byte, ReplyLen))
	require.Error(t, err)

	_, _, err = h.Start()
	require.NoError(t, err)
	_, _, err = h.Start()
	require.Error(t, err)
}

func TestClientConnect(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		br := bufio.NewReader(serverConn)
		hdr := make([]byte, 8)
		if _, err := io.ReadFull(br, hdr); err != nil {
			return err
		}
		userID, err := br.ReadString(0)
		if err != nil {
			return err
		}
		domain, err := br.ReadString(0)
		if err != nil {
			return err
		}
		assert.Equal(t, []byte{0x04, 0x01, 0x00, 0x50, 0, 0, 0, 1}, hdr)
		assert.Equal(t, "bob\x00", userID)
		assert.Equal(t, "example.org\x00", domain)

		// Reply and first relayed bytes in a single write.
		_, err = serverConn.Write(append([]byte{0x00, 0x5a, 0, 0, 0, 0, 0, 0}, "hello"...))
		return err
	})

	dst, err := socks.ParseAddr("example.org", 80)
	require.NoError(t, err)
	require.NoError(t, ClientConnect(clientConn, dst, "bob"))

	buf := make([]byte, 5)
	_, err = io.ReadFull(clientConn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	require.NoError(t, g.Wait())
}

func TestClientConnectTruncated(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		defer serverConn.Close()
		buf := make([]byte, 64)
		_, _ = serverConn.Read(buf)
		_, _ = serverConn.Write([]byte{0x00, 0x5a, 0x00})
	}()

	dst, err := socks.ParseAddr("10.0.0.5", 22)
	require.NoError(t, err)
	err = ClientConnect(clientConn, dst, "")
	require.ErrorIs(t, err, socks.ErrTruncatedReply)
}
