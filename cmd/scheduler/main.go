// Package main runs the schedule polling loop.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - profiling on a separate port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/config"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/history"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/logger"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/queue"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/scheduler"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/store"
)

// connectWithRetry attempts to connect to Redis with exponential backoff
func connectWithRetry(redisURL string, maxRetries int, log logger.Logger) (*redis.Client, error) {
	var (
		client *redis.Client
		err    error
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err = store.ConnectRedis(ctx, redisURL)
		cancel()
		if err == nil {
			return client, nil
		}

		// 2^attempt seconds, at most 30 seconds
		delay := min(time.Duration(1<<uint(attempt))*time.Second, 30*time.Second)
		log.Warn("Failed to connect to Redis, retrying",
			"attempt", attempt+1,
			"max_attempts", maxRetries,
			"error", err,
			"retry_in", delay.String())
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, err)
}

func main() {
	cfg, err := config.Load(os.Getenv("REPORTSCHED_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	schedulerLog := log.WithComponent(logger.ComponentScheduler).WithSource(logger.LogSourceInternal)
	schedulerLog.Info("Scheduler starting",
		"store_backend", cfg.Store.Backend,
		"interval", cfg.Scheduler.Interval.String(),
		"lease", cfg.Scheduler.LeaseEnabled)

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6062"
	}
	go func() {
		pprofServer := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
		}
		if err := pprofServer.ListenAndServe(); err != nil {
			schedulerLog.Error("pprof server failed", "error", err)
		}
	}()

	client, err := connectWithRetry(cfg.RedisURL, 5, schedulerLog)
	if err != nil {
		schedulerLog.Error("Could not connect to Redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	schedules, closeStore, err := store.Open(cfg.Store, client)
	if err != nil {
		schedulerLog.Error("Failed to open schedule store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	loop := scheduler.NewLoop(schedules, queue.NewRedisQueueWithClient(client), cfg.Scheduler.Interval)
	loop.SetHistory(history.NewRedisStore(client, cfg.History.SuccessTTL, cfg.History.FailureTTL))
	loop.SetRateLimit(cfg.Scheduler.FireRate, cfg.Scheduler.FireBurst)
	if cfg.Scheduler.LeaseEnabled {
		loop.SetLease(client, scheduler.DefaultLeaseKey, cfg.Scheduler.LeaseTTL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	schedulerLog.Info("Received signal, shutting down", "signal", sig.String())

	loop.Stop()
	schedulerLog.Info("Scheduler shut down successfully")
}
