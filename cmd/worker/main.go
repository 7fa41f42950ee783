// Package main runs the execution worker pool.
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

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/config"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/history"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/logger"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/queue"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/worker"
)

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

	workerLog := log.WithComponent(logger.ComponentWorker).WithSource(logger.LogSourceInternal)
	workerLog.Info("Worker starting", "config", cfg.Worker.String())

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6061"
	}
	go func() {
		pprofServer := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
		}
		if err := pprofServer.ListenAndServe(); err != nil {
			workerLog.Error("pprof server failed", "error", err)
		}
	}()

	redisQueue, err := queue.NewRedisQueue(cfg.RedisURL)
	if err != nil {
		workerLog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisQueue.Close()

	hist := history.NewRedisStore(redisQueue.Client(), cfg.History.SuccessTTL, cfg.History.FailureTTL)

	// TODO: swap AcknowledgeRunner for the report engine client once its API is published
	executor := worker.NewExecutor(worker.AcknowledgeRunner{}, redisQueue, hist)

	pool := worker.NewPool(executor, redisQueue, cfg.Worker.Concurrency, cfg.Worker.RequestTimeout)
	pool.SetPriorities(cfg.Worker.Priorities)
	pool.SetPollInterval(cfg.Worker.PollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	pool.Start(ctx)

	sig := <-sigChan
	workerLog.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	// Workers finish their current request before exiting
	pool.Stop()
	cancel()

	workerLog.Info("Worker shut down successfully")
}
