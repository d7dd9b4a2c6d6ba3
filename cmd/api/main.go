package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	appmigrate "github.com/pterodeploy/pterodeploy/internal/app/migrate"
	httpx "github.com/pterodeploy/pterodeploy/internal/http"
	"github.com/pterodeploy/pterodeploy/internal/repository/postgres"
	"github.com/pterodeploy/pterodeploy/internal/service/auth"
	"github.com/pterodeploy/pterodeploy/internal/service/deploy"
	"github.com/pterodeploy/pterodeploy/internal/ws"
	"github.com/pterodeploy/pterodeploy/pkg/config"
	"github.com/pterodeploy/pterodeploy/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	migrator := appmigrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err := migrator.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database pool init failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	store := postgres.New(pool)
	hub := ws.NewHub()
	broadcaster := ws.NewBroadcaster(hub, log)

	worker := deploy.NewSimulator(cfg.FailureSeed, cfg.FailureRate, cfg.StepEffortUnit)
	deploySvc := deploy.New(store, broadcaster, worker, log, cfg)
	defer deploySvc.Close()
	authSvc := auth.New(store, log, cfg)

	limiter := buildLimiter(cfg, log)
	defer limiter.Close()

	router := httpx.NewRouter(log, cfg, authSvc, deploySvc, hub, limiter)
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold connections open
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", cfg.Addr, "env", cfg.Environment)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown incomplete", "error", err)
	}
	log.Info("api stopped")
}

// buildLimiter prefers the shared Redis limiter when configured and falls
// back to the in-process one.
func buildLimiter(cfg config.APIConfig, log *slog.Logger) httpx.RateLimiter {
	if cfg.RateLimitRedisAddr == "" {
		return httpx.NewMemoryRateLimiter()
	}
	limiter, err := httpx.NewRedisRateLimiter(cfg.RateLimitRedisAddr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
	if err != nil {
		log.Warn("redis rate limiter unavailable, using in-memory limiter", "error", err)
		return httpx.NewMemoryRateLimiter()
	}
	log.Info("redis rate limiter enabled", "addr", cfg.RateLimitRedisAddr)
	return limiter
}
