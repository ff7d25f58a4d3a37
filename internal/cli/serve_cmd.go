package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/internal/handler"
	"github.com/noah-isme/perf-eval-api/internal/middleware"
	"github.com/noah-isme/perf-eval-api/pkg/config"
	"github.com/noah-isme/perf-eval-api/pkg/logger"
	"github.com/noah-isme/perf-eval-api/pkg/middleware/requestid"
)

// ServeCmd runs the operational HTTP server.
func ServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the health, readiness and metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			if port > 0 {
				rt.cfg.Port = port
			}
			return serve(ctx, rt)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides PORT)")
	return cmd
}

func serve(ctx context.Context, rt *runtime) error {
	if rt.cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestid.Middleware())
	r.Use(logger.GinMiddleware(rt.logger, "/health", "/ready", "/metrics"))
	r.Use(middleware.Metrics(rt.metrics))

	var cachePinger handler.Pinger
	if rt.redis != nil {
		cachePinger = handler.PingFunc(rt.cacheRepo.Ping)
	}
	handler.NewOpsHandler(rt.metrics, rt.db, cachePinger, rt.logger).Register(r)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", rt.cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.logger.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}
