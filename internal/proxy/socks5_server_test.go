package proxy

import (
	"context"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/socksconnect/internal/dialer"
	"github.com/die-net/socksconnect/internal/socks"
	"github.com/die-net/socksconnect/internal/socks5"
	"github.com/die-net/socksconnect/internal/testutil"
)

func startSOCKS5Server(t *testing.T, ctx context.Context, cfg Config) net.Listener {
	t.Helper()

	ln, err := ListenTCP(ctx, "127.0.0.1:0", net.KeepAliveConfig{Enable: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	srv := NewSOCKS5Server(ctx, cfg)
	go func() { _ = srv.Serve(ln) }()

	return ln
}

func TestSOCKS5ServerThroughSOCKS4Upstream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_ = testutil.HandleSOCKS4Connect(ctx, c, "alice")
	})
	defer waitUp()

	d, err := dialer.NewSOCKS4(ctx, dialer.Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "alice")
	require.NoError(t, err)

	ln := startSOCKS5Server(t, ctx, Config{NegotiationTimeout: 2 * time.Second, Dialer: d})

	client, err := txsocks5.NewClient(ln.Addr().String(), "", "", 2, 0)
	require.NoError(t, err)

	c, err := client.Dial("tcp", echoLn.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("hello"))
}

func TestSOCKS5ServerAuth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)

	creds := socks.Credentials{Username: "user", Password: "pass"}
	ln := startSOCKS5Server(t, ctx, Config{
		Dialer:      dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second}),
		Credentials: creds,
	})

	t.Run("wrong password", func(t *testing.T) {
		c, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		defer c.Close()

		dst, err := socks.SplitAddr(echoLn.Addr().String())
		require.NoError(t, err)
		_, err = socks5.ClientConnect(c, dst, socks.Credentials{Username: "user", Password: "nope"})
		assert.ErrorIs(t, err, socks.ErrAuthenticationFailed)
	})

	t.Run("no credentials offered", func(t *testing.T) {
		c, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		defer c.Close()

		dst, err := socks.SplitAddr(echoLn.Addr().String())
		require.NoError(t, err)
		_, err = socks5.ClientConnect(c, dst, socks.Credentials{})
		assert.ErrorIs(t, err, socks.ErrNoAcceptableAuthMethod)
	})

	t.Run("accepted", func(t *testing.T) {
		c, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		defer c.Close()

		dst, err := socks.SplitAddr(echoLn.Addr().String())
		require.NoError(t, err)
		bound, err := socks5.ClientConnect(c, dst, creds)
		require.NoError(t, err)
		assert.Equal(t, socks.AddrIPv4, bound.Type)

		testutil.AssertEcho(t, c, c, []byte("hello"))
	})
}

func TestSOCKS5ServerReplyCodes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tests := []struct {
		name    string
		handler func(net.Conn)
		refuse  error
		want    byte
	}{
		{
			name:   "upstream proxy unreachable",
			refuse: syscall.ECONNREFUSED,
			want:   socks5.RepConnectionRefused,
		},
		{
			name: "upstream socks5 rejection passes through",
			handler: func(c net.Conn) {
				if err := socks5.ServerNegotiate(c, socks.Credentials{}); err != nil {
					return
				}
				req, err := socks5.ServerReadRequest(c)
				if err != nil {
					return
				}
				socks5.WriteFailureReply(c, socks5.RepTTLExpired, req.Atyp)
			},
			want: socks5.RepTTLExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pd := &testutil.PipeDialer{Handler: tt.handler}
			if tt.refuse != nil {
				pd.Refuse = map[string]error{"10.0.0.1:1080": tt.refuse}
			}
			d, err := dialer.NewSOCKS5(ctx, dialer.Config{Forward: pd}, "10.0.0.1:1080", socks.Credentials{})
			require.NoError(t, err)

			ln := startSOCKS5Server(t, ctx, Config{Dialer: d})

			c, err := net.Dial("tcp", ln.Addr().String())
			require.NoError(t, err)
			defer c.Close()

			dst, err := socks.ParseAddr("example.org", 80)
			require.NoError(t, err)
			_, err = socks5.ClientConnect(c, dst, socks.Credentials{})

			var rej *socks.RejectedError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.want, rej.Code)
		})
	}
}

func TestSOCKS5ServerReportsUpstreamBound(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pd := &testutil.PipeDialer{Handler: func(c net.Conn) {
		if err := socks5.ServerNegotiate(c, socks.Credentials{}); err != nil {
			return
		}
		if _, err := socks5.ServerReadRequest(c); err != nil {
			return
		}
		if err := socks5.WriteSuccessReply(c, &net.TCPAddr{IP: net.ParseIP("198.51.100.7"), Port: 4321}); err != nil {
			return
		}
		_, _ = io.Copy(c, c)
	}}
	d, err := dialer.NewSOCKS5(ctx, dialer.Config{Forward: pd}, "10.0.0.1:1080", socks.Credentials{})
	require.NoError(t, err)

	ln := startSOCKS5Server(t, ctx, Config{Dialer: d})

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	dst, err := socks.ParseAddr("example.org", 80)
	require.NoError(t, err)
	bound, err := socks5.ClientConnect(c, dst, socks.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7:4321", bound.String())

	testutil.AssertEcho(t, c, c, []byte("hello"))
}

func TestCopyBidirectional(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a1, a2 := net.Pipe()
	b1, b2 := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(ctx, a2, b1) }()

	testutil.AssertEcho(t, a1, b2, []byte("left to right"))
	testutil.AssertEcho(t, b2, a1, []byte("right to left"))

	_ = a1.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("copy did not finish after close")
	}
}

func TestCopyBidirectionalCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	a1, a2 := net.Pipe()
	b1, b2 := net.Pipe()
	defer a1.Close()
	defer b2.Close()

	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(ctx, a2, b1) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("copy did not stop on cancel")
	}
}
