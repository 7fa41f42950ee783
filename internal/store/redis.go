package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/schedule"
)

// claimScript swaps in a fired schedule only if its stored next_run still matches.
// Returns 1 on success, 0 on conflict and -1 when the schedule no longer exists.
var claimScript = redis.NewScript(`
	if redis.call("exists", KEYS[1]) == 0 then
		return -1
	end
	if redis.call("hget", KEYS[1], "next_run") ~= ARGV[1] then
		return 0
	end
	redis.call("hset", KEYS[1], "data", ARGV[2], "next_run", ARGV[3])
	if ARGV[3] == "" then
		redis.call("zrem", KEYS[2], ARGV[4])
	else
		redis.call("zadd", KEYS[2], ARGV[3], ARGV[4])
	end
	return 1
`)

// RedisStore keeps schedules in Redis.
//
// Layout (prefix "reportsched:"):
//   - schedule:<id>      hash {data: JSON, next_run: unix ms or "", report_config}
//   - schedules:all      set of ids
//   - schedules:due      zset of enabled ids scored by next run (unix ms)
//   - config:<reportId>  set of schedule ids owned by a report configuration
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	allKey    string
	dueKey    string
}

// ConnectRedis parses a Redis URL and verifies the connection
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	prefix := "reportsched:"
	return &RedisStore{
		client:    client,
		keyPrefix: prefix,
		allKey:    prefix + "schedules:all",
		dueKey:    prefix + "schedules:due",
	}
}

func (r *RedisStore) scheduleKey(id string) string {
	return r.keyPrefix + "schedule:" + id
}

func (r *RedisStore) configKey(reportConfigID string) string {
	return r.keyPrefix + "config:" + reportConfigID
}

// encodeNextRun renders a next run as the value stored in the hash and zset
func encodeNextRun(next *time.Time) string {
	if next == nil {
		return ""
	}
	return strconv.FormatInt(next.UnixMilli(), 10)
}

// Save inserts or replaces a schedule
func (r *RedisStore) Save(ctx context.Context, s *schedule.Schedule) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	next := encodeNextRun(s.NextRun)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.scheduleKey(s.ID), map[string]interface{}{
			"data":          data,
			"next_run":      next,
			"report_config": s.ReportConfigID,
		})
		pipe.SAdd(ctx, r.allKey, s.ID)
		pipe.SAdd(ctx, r.configKey(s.ReportConfigID), s.ID)
		if next == "" {
			pipe.ZRem(ctx, r.dueKey, s.ID)
		} else {
			pipe.ZAdd(ctx, r.dueKey, redis.Z{Score: float64(s.NextRun.UnixMilli()), Member: s.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// FindByID loads a schedule
func (r *RedisStore) FindByID(ctx context.Context, id string) (*schedule.Schedule, error) {
	data, err := r.client.HGet(ctx, r.scheduleKey(id), "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, schedule.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return decodeSchedule(data)
}

// Delete removes a schedule and its index entries
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	reportConfigID, err := r.client.HGet(ctx, r.scheduleKey(id), "report_config").Result()
	if errors.Is(err, redis.Nil) {
		return schedule.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get schedule: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.scheduleKey(id))
		pipe.SRem(ctx, r.allKey, id)
		pipe.ZRem(ctx, r.dueKey, id)
		pipe.SRem(ctx, r.configKey(reportConfigID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

// FindDue returns enabled schedules whose next run is at or before now
func (r *RedisStore) FindDue(ctx context.Context, now time.Time) ([]*schedule.Schedule, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.dueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}

	schedules, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	// The index can briefly disagree with the hash; the hash wins
	due := schedules[:0]
	for _, s := range schedules {
		if s.IsDue(now) {
			due = append(due, s)
		}
	}
	return due, nil
}

// FindByReportConfig returns the schedules of one report configuration, oldest first
func (r *RedisStore) FindByReportConfig(ctx context.Context, reportConfigID string) ([]*schedule.Schedule, error) {
	ids, err := r.client.SMembers(ctx, r.configKey(reportConfigID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list report config schedules: %w", err)
	}
	schedules, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortByCreation(schedules)
	return schedules, nil
}

// List returns every schedule, oldest first
func (r *RedisStore) List(ctx context.Context) ([]*schedule.Schedule, error) {
	ids, err := r.client.SMembers(ctx, r.allKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	schedules, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortByCreation(schedules)
	return schedules, nil
}

// Claim atomically swaps in the fired schedule if the stored next run still matches
func (r *RedisStore) Claim(ctx context.Context, fired *schedule.Schedule, expectedNextRun time.Time) error {
	data, err := json.Marshal(fired)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	result, err := claimScript.Run(ctx, r.client,
		[]string{r.scheduleKey(fired.ID), r.dueKey},
		encodeNextRun(&expectedNextRun), data, encodeNextRun(fired.NextRun), fired.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to claim schedule: %w", err)
	}

	switch result {
	case 1:
		return nil
	case -1:
		return schedule.ErrNotFound
	default:
		return schedule.ErrClaimConflict
	}
}

// loadMany fetches schedules by id in one round trip, skipping ids whose hash is gone
func (r *RedisStore) loadMany(ctx context.Context, ids []string) ([]*schedule.Schedule, error) {
	if len(ids) == 0 {
		return []*schedule.Schedule{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, r.scheduleKey(id), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}

	schedules := make([]*schedule.Schedule, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load schedule: %w", err)
		}
		s, err := decodeSchedule(data)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}

func decodeSchedule(data string) (*schedule.Schedule, error) {
	var s schedule.Schedule
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	return &s, nil
}

var _ schedule.Store = (*RedisStore)(nil)
