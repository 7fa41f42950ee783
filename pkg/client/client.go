// Package client submits manual report runs and reads their results straight
// from Redis, for programs running next to the scheduler.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/history"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/queue"
)

// Client provides a simple API for running reports and reading their results
type Client struct {
	redis   *redis.Client
	queue   *queue.RedisQueue
	history *history.RedisStore
	ctx     context.Context
}

// NewClient creates a client connected to Redis
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	rc := redis.NewClient(opts)
	if err := rc.Ping(context.Background()).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewClientWithRedis(rc), nil
}

// NewClientWithRedis creates a client on an existing Redis connection.
// Close closes that connection.
func NewClientWithRedis(rc *redis.Client) *Client {
	return &Client{
		redis: rc,
		queue: queue.NewRedisQueueWithClient(rc),
		// Reads never write results, so the TTLs are unused here
		history: history.NewRedisStore(rc, time.Hour, 24*time.Hour),
		ctx:     context.Background(),
	}
}

// RunReport requests an immediate run of a report configuration and returns
// the execution request ID.
func (c *Client) RunReport(reportConfigID string) (string, error) {
	req := execution.NewManual(reportConfigID, time.Now())
	if err := c.queue.Enqueue(c.ctx, req); err != nil {
		return "", fmt.Errorf("failed to request report run: %w", err)
	}
	return req.ID, nil
}

// RunReportAndWait requests a run and waits up to timeout for its result.
// It returns the request ID with a nil result if the run did not finish in time.
func (c *Client) RunReportAndWait(ctx context.Context, reportConfigID string, timeout time.Duration) (string, *execution.Result, error) {
	req := execution.NewManual(reportConfigID, time.Now())
	if err := c.queue.Enqueue(ctx, req); err != nil {
		return "", nil, fmt.Errorf("failed to request report run: %w", err)
	}
	result, err := c.history.WaitForResult(ctx, req.ID, timeout)
	if err != nil {
		return req.ID, nil, fmt.Errorf("failed to wait for result: %w", err)
	}
	return req.ID, result, nil
}

// GetRequest retrieves an execution request by its ID
func (c *Client) GetRequest(requestID string) (*execution.Request, error) {
	req, err := c.queue.GetRequest(c.ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution request: %w", err)
	}
	return req, nil
}

// GetResult retrieves the result of a finished run, or nil while it is pending
func (c *Client) GetResult(requestID string) (*execution.Result, error) {
	result, err := c.history.Get(c.ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return result, nil
}

// ListResults returns the latest results of a report configuration, newest first
func (c *Client) ListResults(reportConfigID string, limit int) ([]*execution.Result, error) {
	results, err := c.history.ListByReportConfig(c.ctx, reportConfigID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return results, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.redis.Close()
}
