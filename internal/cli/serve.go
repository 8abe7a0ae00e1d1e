package cli

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Rupali59/docbridge/internal/httpapi"
	"github.com/Rupali59/docbridge/internal/metrics"
	"github.com/Rupali59/docbridge/pkg/lifecycle"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the document API over HTTP",
		Long: `Serve the document API over HTTP on PORT (default 8080).

Routes live under /v1/collections/:collection. Watches are streamed as
server-sent events. /healthz, /readyz, /startupz and /metrics are served
alongside.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(ctx context.Context, s *session) error {
				if s.cfg.IsProduction() {
					gin.SetMode(gin.ReleaseMode)
				}
				if port == "" {
					port = s.cfg.Port
				}

				srv := newServer(s, port)
				srv.MarkReady()
				s.logger.Info("serving", zap.String("backend", s.cfg.Backend), zap.String("port", port))
				return srv.Run(ctx)
			})
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")

	return cmd
}

// newServer mounts the API on a lifecycle server. The facade is closed once
// the listener has shut down, ending any open watches.
func newServer(s *session, port string) *lifecycle.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	srv := lifecycle.New(router, port, s.logger, lifecycle.WithMetrics(metrics.Handler()))
	srv.SetReadinessCheck(s.store.Ping)
	httpapi.New(s.docs, s.logger).Register(router)
	srv.OnShutdown(func(ctx context.Context) {
		if _, err := s.docs.Close(ctx).Await(ctx); err != nil {
			s.logger.Warn("failed to close documents", zap.Error(err))
		}
	})
	return srv
}
