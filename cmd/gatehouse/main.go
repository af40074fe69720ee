package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/quietgrove/gatehouse/pkg/api"
	"github.com/quietgrove/gatehouse/pkg/authn"
	"github.com/quietgrove/gatehouse/pkg/config"
	"github.com/quietgrove/gatehouse/pkg/identity"
	"github.com/quietgrove/gatehouse/pkg/middleware"
	"github.com/quietgrove/gatehouse/pkg/observability"
	"github.com/quietgrove/gatehouse/pkg/tenant"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
	metrics := observability.NewMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.WithError(err).Error("failed to open postgres connection")
		os.Exit(1)
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Error("invalid redis URL")
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	provider, err := authn.Discover(ctx, cfg.Provider)
	if err != nil {
		// Startup, not per-request: a gate that cannot verify tokens has no
		// business accepting traffic.
		logger.WithError(err).Error("identity provider discovery failed")
		os.Exit(1)
	}

	realip, err := middleware.NewRealIP(cfg.TrustedProxies)
	if err != nil {
		logger.WithError(err).Error("invalid trusted proxy configuration")
		os.Exit(1)
	}

	server := api.NewServer(api.Deps{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Health:  observability.NewHealthChecker(db, redisClient),
		RealIP:  realip,
		CSRF:    middleware.NewCSRFGuard(cfg.CSRF, logger, metrics),
		RateLimiter: middleware.NewRateLimiter(
			middleware.NewRedisCounterStore(redisClient), cfg.Environment, logger, metrics),
		Pipeline: middleware.NewAuthPipeline(
			authn.NewVerifier(provider, cfg.Provider, logger),
			tenant.NewResolver(tenant.NewPostgresStore(db), cfg.Tenant, metrics),
			identity.NewLoader(db, logger),
			logger, metrics),
		Provider: authn.NewProviderClient(provider, cfg.Provider),
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":        httpServer.Addr,
			"environment": cfg.Environment,
		}).Info("starting gatehouse")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
