package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/die-net/socksconnect/internal/dialer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options holds the flags shared by every subcommand.
type options struct {
	upstream           string
	dialTimeout        time.Duration
	negotiationTimeout time.Duration
	dnsCacheTTL        time.Duration
	tcpKeepAlive       string
	logLevel           string
	verbose            bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "socksconnect",
		Short:         "Reach TCP and plain HTTP destinations through a SOCKS4, SOCKS4a or SOCKS5 proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.setupLogging()
		},
	}

	opts.addFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(opts), newGetCmd(opts))
	return root
}

func (o *options) addFlags(flags *pflag.FlagSet) {
	flags.SortFlags = false
	flags.StringVar(&o.upstream, "upstream", defaultUpstream(), "Upstream proxy URL: direct:// | socks4://[userid@]host[:port] | socks4a://[userid@]host[:port] | socks5://[user[:pass]@]host[:port] | socks5h://[user[:pass]@]host[:port]")
	flags.DurationVar(&o.dialTimeout, "dial-timeout", 10*time.Second, "Timeout for each TCP connect to the proxy")
	flags.DurationVar(&o.negotiationTimeout, "negotiation-timeout", 10*time.Second, "Timeout for a SOCKS handshake or an inbound request's negotiation")
	flags.DurationVar(&o.dnsCacheTTL, "dns-cache-ttl", time.Minute, "How long to cache proxy and local SOCKS4 lookups (0 disables)")
	flags.StringVar(&o.tcpKeepAlive, "tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	flags.StringVar(&o.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flags.BoolVar(&o.verbose, "verbose", false, "Log per-connection errors at info level")
}

func (o *options) setupLogging() error {
	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return errors.Wrap(err, "invalid --log-level")
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

func (o *options) dialerConfig() (dialer.Config, error) {
	ka, err := parseTCPKeepAlive(o.tcpKeepAlive)
	if err != nil {
		return dialer.Config{}, errors.Wrap(err, "invalid --tcp-keepalive")
	}

	return dialer.Config{
		DialTimeout:        o.dialTimeout,
		NegotiationTimeout: o.negotiationTimeout,
		KeepAlive:          ka,
		DNSCacheTTL:        o.dnsCacheTTL,
		Log:                logrus.StandardLogger(),
	}, nil
}

func (o *options) newDialer(ctx context.Context) (dialer.Dialer, dialer.Config, error) {
	cfg, err := o.dialerConfig()
	if err != nil {
		return nil, cfg, err
	}

	d, err := dialer.New(ctx, cfg, o.upstream)
	if err != nil {
		return nil, cfg, errors.Wrap(err, "invalid --upstream")
	}
	return d, cfg, nil
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}
