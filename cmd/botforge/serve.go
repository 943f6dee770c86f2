package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"botforge/internal/api"
	"botforge/internal/config"
	"botforge/internal/docs"
	"botforge/internal/logging"
	"botforge/internal/metrics"
	"botforge/internal/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.L()
	if cfg.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	limiter := middleware.NewIPRateLimiter(cfg.RateLimitPerMinute, max(cfg.RateLimitPerMinute/6, 5))
	defer limiter.Close()

	collector := metrics.NewRuntimeCollector(15*time.Second, a.manager.ActiveCount)
	collector.Start(ctx)
	defer collector.Stop()

	server := api.NewServer(api.Options{
		Pipeline:  a.pipeline,
		Extractor: docs.NewRegistry(cfg.MaxUploadBytes, cfg.MaxDocumentChars),
		Events:    a.hub,
		Info: api.ServiceInfo{
			Provider: string(a.client.Provider()),
			Endpoint: a.client.Endpoint(),
			Model:    a.client.Model(),
		},
		RateLimiter:    limiter,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("botforge API listening",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment),
			zap.Int("backend_port", cfg.BackendPort),
			zap.Int("frontend_port", cfg.FrontendPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case serveErr = <-serverErrors:
		log.Error("HTTP server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	a.shutdown(shutdownCtx)
	log.Info("botforge stopped")
	return serveErr
}
