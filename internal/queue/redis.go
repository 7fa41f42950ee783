// Package queue carries execution requests from the scheduler and the API to workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/logger"
)

// ErrRequestNotFound is returned when a request record does not exist
var ErrRequestNotFound = errors.New("execution request not found")

// completedTTL bounds how long finished request records stay around
const completedTTL = 24 * time.Hour

// DefaultPriorities is the order workers drain the queues in
var DefaultPriorities = []execution.Priority{execution.PriorityHigh, execution.PriorityNormal}

// RedisQueue manages execution request queues in Redis
type RedisQueue struct {
	client    *redis.Client
	keyPrefix string
	log       logger.Logger
	now       func() time.Time

	queueHighKey   string
	queueNormalKey string
	processingKey  string
	deadLetterKey  string
	retrySetKey    string
}

// NewRedisQueue connects to Redis and creates a queue
func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := NewRedisQueueWithClient(client)
	q.log.Info("Connected to Redis", "addr", opts.Addr)
	return q, nil
}

// NewRedisQueueWithClient creates a queue on an existing client
func NewRedisQueueWithClient(client *redis.Client) *RedisQueue {
	prefix := "reportsched:"
	return &RedisQueue{
		client:         client,
		keyPrefix:      prefix,
		log:            logger.Default().WithComponent(logger.ComponentQueue),
		now:            time.Now,
		queueHighKey:   prefix + "queue:high",
		queueNormalKey: prefix + "queue:normal",
		processingKey:  prefix + "queue:processing",
		deadLetterKey:  prefix + "queue:dead",
		retrySetKey:    prefix + "queue:retry",
	}
}

// Client returns the underlying Redis client
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

// SetLogger replaces the queue's logger
func (q *RedisQueue) SetLogger(l logger.Logger) {
	q.log = l.WithComponent(logger.ComponentQueue)
}

func (q *RedisQueue) requestKey(id string) string {
	return q.keyPrefix + "request:" + id
}

func (q *RedisQueue) queueKey(priority execution.Priority) string {
	if priority == execution.PriorityHigh {
		return q.queueHighKey
	}
	return q.queueNormalKey
}

// Enqueue stores a request and pushes it onto its priority queue
func (q *RedisQueue) Enqueue(ctx context.Context, req *execution.Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid execution request: %w", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal execution request: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.requestKey(req.ID), data, 0)
		pipe.LPush(ctx, q.queueKey(req.Priority), req.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue execution request: %w", err)
	}

	q.log.Debug("Enqueued execution request",
		"request_id", req.ID, "report_config_id", req.ReportConfigID, "priority", req.Priority)
	return nil
}

// Dequeue moves the oldest request of the first non-empty queue to processing.
// It returns nil, nil when every queue is empty.
func (q *RedisQueue) Dequeue(ctx context.Context, priorities []execution.Priority) (*execution.Request, error) {
	for _, priority := range priorities {
		id, err := q.client.LMove(ctx, q.queueKey(priority), q.processingKey, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to dequeue execution request: %w", err)
		}

		req, err := q.GetRequest(ctx, id)
		if err != nil {
			q.client.LRem(ctx, q.processingKey, 1, id)
			return nil, fmt.Errorf("dropping execution request %s: %w", id, err)
		}

		req.UpdateStatus(execution.StatusProcessing)
		if err := q.save(ctx, req, 0); err != nil {
			return nil, err
		}
		return req, nil
	}
	return nil, nil
}

// Complete marks a request completed and removes it from processing
func (q *RedisQueue) Complete(ctx context.Context, req *execution.Request) error {
	req.UpdateStatus(execution.StatusCompleted)
	req.Error = ""
	req.RetryAt = nil

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal execution request: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, req.ID)
		pipe.Set(ctx, q.requestKey(req.ID), data, completedTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete execution request: %w", err)
	}
	return nil
}

// Fail records a failed attempt. While the retry budget lasts the request waits in
// the retry set for 2^attempts seconds; after that it moves to the dead letter queue.
// It reports whether the request will be retried.
func (q *RedisQueue) Fail(ctx context.Context, req *execution.Request, errMsg string) (bool, error) {
	req.Attempts++
	req.Error = errMsg

	if req.CanRetry() {
		delay := RetryDelay(req.Attempts)
		retryAt := q.now().Add(delay).UTC()
		req.UpdateStatus(execution.StatusRetrying)
		req.RetryAt = &retryAt

		data, err := json.Marshal(req)
		if err != nil {
			return false, fmt.Errorf("failed to marshal execution request: %w", err)
		}

		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, q.requestKey(req.ID), data, 0)
			pipe.ZAdd(ctx, q.retrySetKey, redis.Z{Score: float64(retryAt.Unix()), Member: req.ID})
			pipe.LRem(ctx, q.processingKey, 1, req.ID)
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("failed to schedule execution request for retry: %w", err)
		}

		q.log.Warn("Execution failed, retry scheduled",
			"request_id", req.ID, "attempt", req.Attempts, "max_retries", req.MaxRetries,
			"retry_in", delay.String(), "error", errMsg)
		return true, nil
	}

	req.UpdateStatus(execution.StatusFailed)
	req.RetryAt = nil

	data, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("failed to marshal execution request: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.requestKey(req.ID), data, 0)
		pipe.LPush(ctx, q.deadLetterKey, req.ID)
		pipe.LRem(ctx, q.processingKey, 1, req.ID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to move execution request to dead letter queue: %w", err)
	}

	q.log.Error("Execution request moved to dead letter queue",
		"request_id", req.ID, "attempts", req.Attempts, "error", errMsg)
	return false, nil
}

// RetryDelay is the backoff before retry number attempt: 2^attempt seconds
func RetryDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// MoveRetriesToReady puts requests whose retry time has arrived back on their
// priority queue and returns how many moved.
func (q *RedisQueue) MoveRetriesToReady(ctx context.Context) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.retrySetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get retrying requests: %w", err)
	}

	moved := 0
	for _, id := range ids {
		req, err := q.GetRequest(ctx, id)
		if errors.Is(err, ErrRequestNotFound) {
			q.client.ZRem(ctx, q.retrySetKey, id)
			q.log.Warn("Retrying request has no record, removed", "request_id", id)
			continue
		}
		if err != nil {
			q.log.Error("Failed to load retrying request", "request_id", id, "error", err)
			continue
		}

		req.RetryAt = nil
		req.UpdateStatus(execution.StatusPending)
		data, err := json.Marshal(req)
		if err != nil {
			q.log.Error("Failed to marshal retrying request", "request_id", id, "error", err)
			continue
		}

		// ZRem first inside the transaction so two movers cannot both push the id
		var removed *redis.IntCmd
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			removed = pipe.ZRem(ctx, q.retrySetKey, id)
			pipe.Set(ctx, q.requestKey(id), data, 0)
			return nil
		})
		if err != nil {
			q.log.Error("Failed to move retrying request", "request_id", id, "error", err)
			continue
		}
		if removed.Val() == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.queueKey(req.Priority), id).Err(); err != nil {
			q.log.Error("Failed to requeue retrying request", "request_id", id, "error", err)
			continue
		}
		moved++
	}

	if moved > 0 {
		q.log.Info("Moved retrying requests to ready queues", "count", moved)
	}
	return moved, nil
}

// GetRequest loads a request record
func (q *RedisQueue) GetRequest(ctx context.Context, id string) (*execution.Request, error) {
	data, err := q.client.Get(ctx, q.requestKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution request: %w", err)
	}

	var req execution.Request
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution request: %w", err)
	}
	return &req, nil
}

// Depths reports the length of every queue, keyed by name
func (q *RedisQueue) Depths(ctx context.Context) (map[string]int64, error) {
	pipe := q.client.Pipeline()
	high := pipe.LLen(ctx, q.queueHighKey)
	normal := pipe.LLen(ctx, q.queueNormalKey)
	processing := pipe.LLen(ctx, q.processingKey)
	dead := pipe.LLen(ctx, q.deadLetterKey)
	retry := pipe.ZCard(ctx, q.retrySetKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue depths: %w", err)
	}
	return map[string]int64{
		"high":       high.Val(),
		"normal":     normal.Val(),
		"processing": processing.Val(),
		"dead":       dead.Val(),
		"retry":      retry.Val(),
	}, nil
}

func (q *RedisQueue) save(ctx context.Context, req *execution.Request, ttl time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal execution request: %w", err)
	}
	if err := q.client.Set(ctx, q.requestKey(req.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save execution request: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	return nil
}
