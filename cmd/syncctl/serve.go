package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/erp/commerce-sync/internal/infrastructure/auth"
	"github.com/erp/commerce-sync/internal/interfaces/http/handler"
	"github.com/erp/commerce-sync/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		Long: `Serve exposes the dead letter queue, checkpoints and the reconciliation
report over HTTP. Every /api route needs a bearer token signed with
admin.jwt_secret (see "syncctl token issue"); /healthz and /metrics are open.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.Admin.Addr = addr
			}
			if a.cfg.Admin.JWTSecret == "" {
				return errNoTokenSecret
			}
			tokens, err := auth.NewTokenService(a.cfg.Admin.JWTSecret, a.cfg.Admin.JWTIssuer)
			if err != nil {
				return err
			}
			dlq, err := a.dlqService()
			if err != nil {
				return err
			}

			if a.cfg.App.Env != "development" {
				gin.SetMode(gin.ReleaseMode)
			}
			health := handler.NewHealthHandler(Version, map[string]handler.HealthCheck{
				"storage": a.storagePing,
			})
			var metrics http.Handler
			if a.prom != nil {
				metrics = a.prom.Handler()
			}
			engine := router.NewEngine(router.Options{
				Logger:         a.logger,
				Tokens:         tokens,
				ServiceName:    a.cfg.Telemetry.ServiceName,
				TracingEnabled: a.tracer.IsEnabled(),
				Health:         health.Health,
				Metrics:        metrics,
			},
				handler.NewDLQHandler(dlq),
				handler.NewCheckpointHandler(a.checkpoints, a.locker),
				handler.NewReportHandler(a.reportService()),
			)

			a.logger.Info("Starting admin server",
				zap.String("addr", a.cfg.Admin.Addr),
				zap.String("version", Version),
				zap.Bool("dlq_retry", a.cfg.Target.BaseURL != ""))
			srv := router.NewServer(a.cfg.Admin.Addr, engine, a.cfg.Admin.ReadTimeout, a.cfg.Admin.WriteTimeout, a.logger)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Override admin.addr")
	return cmd
}
