package main

import (
	"context"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksconnect/internal/proxy"
	"github.com/die-net/socksconnect/internal/socks"
)

type serveOptions struct {
	httpListen       string
	socksListen      string
	debugListen      string
	httpIdleTimeout  time.Duration
	httpMaxIdleConns int
	socksAuth        string
}

func newServeCmd(opts *options) *cobra.Command {
	so := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run local HTTP and SOCKS5 proxies that relay through the upstream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts, so)
		},
	}

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.StringVar(&so.httpListen, "http-listen", "", "HTTP proxy listen address (e.g. 127.0.0.1:8080). Empty disables.")
	flags.StringVar(&so.socksListen, "socks5-listen", "", "SOCKS5 proxy listen address (e.g. 127.0.0.1:1080). Empty disables.")
	flags.StringVar(&so.debugListen, "debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
	flags.DurationVar(&so.httpIdleTimeout, "http-idle-timeout", 4*time.Minute, "Timeout for idle HTTP proxy connections")
	flags.IntVar(&so.httpMaxIdleConns, "http-max-idle-conns", 100, "Maximum number of idle upstream HTTP connections")
	flags.StringVar(&so.socksAuth, "socks5-auth", "", "Require user:pass from SOCKS5 listener clients. Empty allows anyone.")

	return cmd
}

func serve(ctx context.Context, opts *options, so *serveOptions) error {
	if so.httpListen == "" && so.socksListen == "" {
		return errors.New("no listeners enabled (set at least one of --http-listen, --socks5-listen)")
	}

	creds, err := parseUserPass(so.socksAuth)
	if err != nil {
		return errors.Wrap(err, "invalid --socks5-auth")
	}

	d, dialCfg, err := opts.newDialer(ctx)
	if err != nil {
		return err
	}

	cfg := proxy.Config{
		NegotiationTimeout: opts.negotiationTimeout,
		HTTPIdleTimeout:    so.httpIdleTimeout,
		HTTPMaxIdleConns:   so.httpMaxIdleConns,
		KeepAlive:          dialCfg.KeepAlive,
		Dialer:             d,
		Credentials:        creds,
		Log:                logrus.StandardLogger(),
		Verbose:            opts.verbose,
	}

	g, ctx := errgroup.WithContext(ctx)

	if so.debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		debugLn, err := proxy.ListenTCP(ctx, so.debugListen, cfg.KeepAlive)
		if err != nil {
			return errors.Wrap(err, "debug")
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "debug serve")
			}
			return nil
		})
		logrus.WithField("addr", debugLn.Addr().String()).Info("debug listening")
	}

	if so.httpListen != "" {
		ln, err := proxy.ListenTCP(ctx, so.httpListen, cfg.KeepAlive)
		if err != nil {
			return errors.Wrap(err, "http")
		}
		srv := proxy.NewHTTPProxyServer(ctx, cfg)
		context.AfterFunc(ctx, func() {
			_ = srv.Close()
		})

		g.Go(func() error {
			return errors.Wrap(srv.Serve(ln), "http proxy serve")
		})
		logrus.WithField("addr", ln.Addr().String()).Info("http proxy listening")
	}

	if so.socksListen != "" {
		ln, err := proxy.ListenTCP(ctx, so.socksListen, cfg.KeepAlive)
		if err != nil {
			return errors.Wrap(err, "socks5")
		}
		s5 := proxy.NewSOCKS5Server(ctx, cfg)
		context.AfterFunc(ctx, func() {
			_ = ln.Close()
		})

		g.Go(func() error {
			return errors.Wrap(s5.Serve(ln), "socks5 serve")
		})
		logrus.WithField("addr", ln.Addr().String()).Info("socks5 proxy listening")
	}

	logrus.WithField("upstream", redactURL(opts.upstream)).Info("relaying")

	err = g.Wait()
	logrus.Info("shutting down")
	return err
}

// parseUserPass parses "user:pass"; the empty string means no credentials.
func parseUserPass(s string) (socks.Credentials, error) {
	if s == "" {
		return socks.Credentials{}, nil
	}
	user, pass, ok := strings.Cut(s, ":")
	if !ok || user == "" {
		return socks.Credentials{}, errors.New("expected user:pass")
	}
	creds := socks.Credentials{Username: user, Password: pass}
	if err := creds.Validate(); err != nil {
		return socks.Credentials{}, err
	}
	return creds, nil
}

// redactURL hides any password in an upstream URL for logging.
func redactURL(upstream string) string {
	u, err := url.Parse(upstream)
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}
