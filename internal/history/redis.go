package history

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

// DefaultMaxPerReportConfig caps the per-configuration history index
const DefaultMaxPerReportConfig = 100

// RedisStore implements Store with one hash per result, a sorted index per
// report configuration and a pub/sub notification per request.
type RedisStore struct {
	client       *redis.Client
	keyPrefix    string
	successTTL   time.Duration
	failureTTL   time.Duration
	maxPerConfig int64
	log          logger.Logger
}

// NewRedisStore creates a Redis-backed history store
func NewRedisStore(client *redis.Client, successTTL, failureTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:       client,
		keyPrefix:    "reportsched:",
		successTTL:   successTTL,
		failureTTL:   failureTTL,
		maxPerConfig: DefaultMaxPerReportConfig,
		log:          logger.Default().WithComponent(logger.ComponentHistory),
	}
}

// SetLogger replaces the store's logger
func (r *RedisStore) SetLogger(l logger.Logger) {
	r.log = l.WithComponent(logger.ComponentHistory)
}

func (r *RedisStore) resultKey(requestID string) string {
	return r.keyPrefix + "result:" + requestID
}

func (r *RedisStore) notifyChannel(requestID string) string {
	return r.keyPrefix + "result:notify:" + requestID
}

func (r *RedisStore) configKey(reportConfigID string) string {
	return r.keyPrefix + "history:config:" + reportConfigID
}

// Record stores a result
func (r *RedisStore) Record(ctx context.Context, result *execution.Result) error {
	data := map[string]interface{}{
		"report_config_id": result.ReportConfigID,
		"schedule_id":      result.ScheduleID,
		"trigger":          string(result.Trigger),
		"status":           string(result.Status),
		"completed_at":     result.CompletedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms":      result.Duration.Milliseconds(),
	}
	if result.IsSuccess() && len(result.Output) > 0 {
		data["output"] = string(result.Output)
	}
	if result.Error != "" {
		data["error"] = result.Error
	}

	ttl := r.successTTL
	if result.IsFailed() {
		ttl = r.failureTTL
	}

	key := r.resultKey(result.RequestID)
	index := r.configKey(result.ReportConfigID)

	// The hash never exists without its TTL
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, ttl)
	pipe.ZAdd(ctx, index, redis.Z{Score: float64(result.CompletedAt.UnixMilli()), Member: result.RequestID})
	// Keep the newest maxPerConfig entries
	pipe.ZRemRangeByRank(ctx, index, 0, -r.maxPerConfig-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}

	if err := r.client.Publish(ctx, r.notifyChannel(result.RequestID), "ready").Err(); err != nil {
		r.log.Warn("Failed to publish result notification", "request_id", result.RequestID, "error", err)
	}
	return nil
}

// Get loads a result
func (r *RedisStore) Get(ctx context.Context, requestID string) (*execution.Result, error) {
	data, err := r.client.HGetAll(ctx, r.resultKey(requestID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return decodeResult(requestID, data), nil
}

func decodeResult(requestID string, data map[string]string) *execution.Result {
	result := &execution.Result{
		RequestID:      requestID,
		ReportConfigID: data["report_config_id"],
		ScheduleID:     data["schedule_id"],
		Trigger:        execution.Trigger(data["trigger"]),
		Status:         execution.Status(data["status"]),
		Error:          data["error"],
	}
	if completedAt, err := time.Parse(time.RFC3339Nano, data["completed_at"]); err == nil {
		result.CompletedAt = completedAt
	}
	if ms, err := strconv.ParseInt(data["duration_ms"], 10, 64); err == nil {
		result.Duration = time.Duration(ms) * time.Millisecond
	}
	if output, ok := data["output"]; ok {
		result.Output = json.RawMessage(output)
	}
	return result
}

// WaitForResult subscribes before checking, so a result recorded between the
// check and the wait still wakes the caller.
func (r *RedisStore) WaitForResult(ctx context.Context, requestID string, timeout time.Duration) (*execution.Result, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pubsub := r.client.Subscribe(waitCtx, r.notifyChannel(requestID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(waitCtx); err != nil {
		if waitCtx.Err() != nil {
			return r.Get(ctx, requestID)
		}
		return nil, fmt.Errorf("failed to subscribe for result: %w", err)
	}

	result, err := r.Get(ctx, requestID)
	if err != nil || result != nil {
		return result, err
	}

	// On timeout the final Get covers a notification that raced the deadline
	select {
	case <-waitCtx.Done():
	case <-pubsub.Channel():
	}
	return r.Get(ctx, requestID)
}

// ListByReportConfig returns the newest results of a report configuration.
// Index entries whose result already expired are dropped from the index.
func (r *RedisStore) ListByReportConfig(ctx context.Context, reportConfigID string, limit int) ([]*execution.Result, error) {
	if limit <= 0 {
		limit = int(r.maxPerConfig)
	}

	index := r.configKey(reportConfigID)
	ids, err := r.client.ZRevRange(ctx, index, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	if len(ids) == 0 {
		return []*execution.Result{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.resultKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	results := make([]*execution.Result, 0, len(ids))
	var expired []interface{}
	for i, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			expired = append(expired, ids[i])
			continue
		}
		results = append(results, decodeResult(ids[i], data))
	}
	if len(expired) > 0 {
		if err := r.client.ZRem(ctx, index, expired...).Err(); err != nil {
			r.log.Warn("Failed to prune expired history entries",
				"report_config_id", reportConfigID, "count", len(expired), "error", err)
		}
	}
	return results, nil
}

// Delete removes a result and its index entry
func (r *RedisStore) Delete(ctx context.Context, requestID string) error {
	key := r.resultKey(requestID)
	reportConfigID, err := r.client.HGet(ctx, key, "report_config_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete result: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	if reportConfigID != "" {
		pipe.ZRem(ctx, r.configKey(reportConfigID), requestID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
