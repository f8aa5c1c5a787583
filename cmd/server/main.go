package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Eldrago12/webhook-delivery-service/internal/api"
	"github.com/Eldrago12/webhook-delivery-service/internal/cache"
	"github.com/Eldrago12/webhook-delivery-service/internal/config"
	"github.com/Eldrago12/webhook-delivery-service/internal/metrics"
	"github.com/Eldrago12/webhook-delivery-service/internal/queue"
	"github.com/Eldrago12/webhook-delivery-service/internal/rescue"
	"github.com/Eldrago12/webhook-delivery-service/internal/store"
	"github.com/Eldrago12/webhook-delivery-service/internal/sweeper"
	"github.com/Eldrago12/webhook-delivery-service/internal/worker"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	recorder := metrics.New()
	subCache := cache.New(redisClient, logger)
	jobQueue := queue.New(redisClient)

	// Delivery worker pool and its queue dispatcher (C5 + C4 consumer side).
	deliverer := worker.NewDeliverer(pgStore, pgStore, subCache, jobQueue, cfg, logger, recorder)
	pool := worker.NewPool(cfg.NumWorkers, deliverer, logger)
	pool.Start(ctx)

	dispatcher := queue.NewDispatcher(jobQueue, pool, logger, recorder)
	go dispatcher.Start(ctx)

	// Orphan rescue covers the crash windows called out in the
	// concurrency model: commit-but-not-enqueued, and
	// claimed-but-never-finished.
	rescuer := rescue.New(pgStore, jobQueue, cfg.RescueStaleAfter, logger)
	if err := rescuer.Start(cfg.RescueInterval); err != nil {
		logger.Error("failed to start orphan rescue", "error", err)
		os.Exit(1)
	}
	defer rescuer.Stop()

	// Retention sweeper (C6).
	retentionSweeper := sweeper.New(pgStore, cfg.LogRetentionAge, logger, recorder)
	if err := retentionSweeper.Start(cfg.SweepInterval); err != nil {
		logger.Error("failed to start retention sweeper", "error", err)
		os.Exit(1)
	}
	defer retentionSweeper.Stop()

	subHandler := api.NewSubscriptionHandler(pgStore, subCache, cfg.CacheExpiry)
	ingestHandler := api.NewIngestHandler(pgStore, pgStore, subCache, jobQueue, cfg.CacheExpiry,
		cfg.WebhookSecretHeader, cfg.WebhookEventTypeHeader, logger, recorder)
	statusHandler := api.NewStatusHandler(pgStore, pgStore)

	router := api.NewRouter(subHandler, ingestHandler, statusHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: recorder.Handler(),
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	cancel()
	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("server stopped")
}
