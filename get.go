package main

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/die-net/socksconnect/internal/dialer"
)

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get URL",
		Short: "Fetch a plain http:// URL through the upstream and write the body to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return get(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}
}

func get(ctx context.Context, opts *options, rawURL string, out io.Writer) error {
	d, _, err := opts.newDialer(ctx)
	if err != nil {
		return err
	}

	var transport *http.Transport
	if c, ok := d.(*dialer.Connector); ok {
		transport = c.Transport()
	} else {
		transport = &http.Transport{DialContext: d.DialContext}
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(err, "get")
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "get")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return errors.Errorf("get %s: %s", rawURL, resp.Status)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return errors.Wrap(err, "get: read body")
	}
	return nil
}
