package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/seanankenbruck/mongo-query-bot/internal/auth"
	"github.com/seanankenbruck/mongo-query-bot/internal/mongodb"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
	"github.com/seanankenbruck/mongo-query-bot/internal/processor"
	"github.com/seanankenbruck/mongo-query-bot/internal/session"
)

func newServeCmd() *cobra.Command {
	var (
		port    string
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, port, migrate)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides PORT)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply semantic store migrations on startup")
	return cmd
}

func runServe(ctx context.Context, port string, migrate bool) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Server.Port = port
	}
	gin.SetMode(cfg.Server.GinMode)

	logger := newLogger(cfg.Logging, "query-bot")
	a, err := buildApp(ctx, cfg, logger, appOptions{semanticStore: semanticStoreFlag, requireRedis: true, migrate: migrate})
	if err != nil {
		return err
	}
	defer a.Close()

	authManager, err := auth.NewAuthManager(cfg.Auth, session.NewManager(a.redis, cfg.Auth.SessionExpiry), logger.WithComponent("auth"))
	if err != nil {
		return err
	}
	limiter := auth.NewRateLimiter(time.Minute)
	defer limiter.Stop()
	quota := auth.NewTokenQuota(a.redis, cfg.Auth.DailyTokenCap)
	if quota.Enabled() {
		a.processor.SetQuota(quota)
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := authManager.CleanupExpired(); n > 0 {
					logger.Info(ctx, "Removed expired API keys", map[string]interface{}{"count": n})
				}
			}
		}
	}()

	discovery := mongodb.NewDiscoveryService(a.breaker, mongodb.DiscoveryConfig{
		Enabled:     cfg.Discovery.Enabled,
		Interval:    cfg.Discovery.Interval,
		Collections: cfg.Discovery.Collections,
	}, a.mapper, logger.WithComponent("discovery"))
	if cfg.Discovery.Enabled {
		if err := discovery.Start(ctx); err != nil {
			logger.Warn(ctx, "Failed to start discovery service", map[string]interface{}{"error": err.Error()})
		} else {
			defer discovery.Stop()
		}
	}

	a.processor.SetHealthChecker(a.healthChecker())
	router := a.processor.SetupRoutes(processor.RouteOptions{
		Auth:    authManager,
		Limiter: limiter,
		Quota:   quota,
		Metrics: observability.GetGlobalMetrics(),
		Logger:  logger,
		Version: version,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Query bot starting", map[string]interface{}{
			"port":           cfg.Server.Port,
			"version":        version,
			"llm_provider":   cfg.LLM.Provider,
			"semantic_store": semanticStoreFlag,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error(ctx, "Server failed", err, nil)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "Graceful shutdown failed", err, nil)
		return err
	}
	return nil
}
