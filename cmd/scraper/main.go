package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/user/scraper-service/internal/api"
	"github.com/user/scraper-service/internal/breaker"
	"github.com/user/scraper-service/internal/cache"
	"github.com/user/scraper-service/internal/config"
	"github.com/user/scraper-service/internal/monitoring"
	"github.com/user/scraper-service/internal/ratelimit"
	"github.com/user/scraper-service/internal/scraper"
	"github.com/user/scraper-service/internal/storage"
	"github.com/user/scraper-service/internal/tracker"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	// Initialize Storage Layer
	pgStore, err := storage.NewPostgresStore(cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pgStore.Close()
	redisStore := storage.NewRedisStore(cfg.RedisAddr)

	// Initialize Resilience Layer. Throttler and breaker are singletons
	// shared by every request to the upstream API.
	metrics := monitoring.NewMetrics()
	throttler := ratelimit.NewThrottler(cfg.RequestsPerPeriod, cfg.Period())
	cb := breaker.New(cfg.BreakerFailureThreshold, cfg.BreakerResetTimeout())
	responseCache := cache.New(redisStore, logger)
	fingerprinter := cache.NewFingerprinter(
		redisStore,
		cfg.VolatileFieldList(),
		time.Duration(cfg.CacheTTLFinishedSeconds)*time.Second,
		logger,
	)

	client := scraper.NewClient(scraper.ClientConfig{
		BaseURL:     cfg.APIBaseURL,
		Token:       cfg.APIToken,
		HTTPTimeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		Throttler:   throttler,
		Breaker:     cb,
		Cache:       responseCache,
		Retry:       scraper.DefaultRetryPolicy,
		Metrics:     metrics,
		Logger:      logger,
	})
	batch := scraper.NewBatchRunner(cfg.MaxConcurrentRequests, logger)

	// Initialize the tracker control loop
	liveTracker := tracker.New(tracker.Config{
		DiscoveryInterval: cfg.DiscoveryInterval(),
		ScrapeInterval:    cfg.ScrapeInterval(),
		MaxTracked:        cfg.MaxTrackedMatches,
		MinImportance:     cfg.MinImportance,
		DiscoveryCacheTTL: time.Duration(cfg.CacheTTLDiscoverySeconds) * time.Second,
		LiveCacheTTL:      time.Duration(cfg.CacheTTLLiveSeconds) * time.Second,
	}, client, batch, pgStore, fingerprinter, metrics, logger)

	trackerCtx, stopTracker := context.WithCancel(context.Background())
	trackerDone := make(chan struct{})
	go func() {
		liveTracker.Run(trackerCtx)
		close(trackerDone)
	}()

	// Initialize API Server
	server := api.NewServer(cfg, client, liveTracker, pgStore, redisStore, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	logger.Info("scraper service started", zap.String("port", cfg.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	// Stop the control loop and let the in-flight poll cycle drain.
	stopTracker()
	select {
	case <-trackerDone:
	case <-time.After(30 * time.Second):
		logger.Warn("tracker did not drain in time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("scraper exiting")
}
