// Package main provides the report scheduler API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is exposed on a separate port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/api"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/config"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/history"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/logger"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/metrics"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/queue"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/schedule"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/store"
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
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	apiLog := log.WithComponent(logger.ComponentAPI).WithSource(logger.LogSourceInternal)
	apiLog.Info("API server starting",
		"api_port", cfg.APIPort,
		"store_backend", cfg.Store.Backend)

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6060"
	}
	go func() {
		apiLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		pprofServer := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := pprofServer.ListenAndServe(); err != nil {
			apiLog.Error("pprof server failed", "error", err)
		}
	}()

	redisQueue, err := queue.NewRedisQueue(cfg.RedisURL)
	if err != nil {
		apiLog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisQueue.Close()

	schedules, closeStore, err := store.Open(cfg.Store, redisQueue.Client())
	if err != nil {
		apiLog.Error("Failed to open schedule store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	gin.SetMode(gin.ReleaseMode)
	hist := history.NewRedisStore(redisQueue.Client(), cfg.History.SuccessTTL, cfg.History.FailureTTL)
	server := api.NewServer(schedule.NewService(schedules, schedule.SystemClock{}), redisQueue, hist, metrics.Default())

	addr := ":" + cfg.APIPort
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Manual runs may wait up to a minute for their result
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		apiLog.Info("API server listening", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiLog.Error("API server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	apiLog.Info("Received signal, shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		apiLog.Error("Graceful shutdown failed", "error", err)
	}
}
