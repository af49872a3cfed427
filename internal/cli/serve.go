package cli

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/matzehuels/zkbclient/internal/server"
	"github.com/matzehuels/zkbclient/pkg/observability"
	"github.com/matzehuels/zkbclient/pkg/observability/metrics"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr      string
		noMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the client over HTTP",
		Long: `Serve the client over HTTP so other local processes share one cache
and one retry budget. Resources are fetched with GET /api/<resource>;
add ?trust=1 to trust the cache and ?pages=1 to merge paged results.
Prometheus metrics are exposed on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)
			cfg := c.config()
			if cmd.Flags().Changed("addr") {
				cfg.Serve.Addr = addr
			}

			// Hooks are read when the transport and client are built.
			var metricsHandler http.Handler
			if !noMetrics {
				m := metrics.New()
				m.Register()
				defer observability.Reset()
				metricsHandler = m.Handler()
			}

			sess, err := newSession(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer sess.Close()
			srv := server.New(sess.client, logger, metricsHandler)

			printInfo("Serving %s on http://%s", cfg.BaseURL, cfg.Serve.Addr)
			err = srv.ListenAndServe(ctx, cfg.Serve.Addr)
			if stderrors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8080)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "do not collect or expose Prometheus metrics")

	return cmd
}
