package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLeaseKey is the key replicas compete for before polling
const DefaultLeaseKey = "reportsched:scheduler:tick"

// ErrLeaseLost is returned by Extend when another replica holds the lease
var ErrLeaseLost = errors.New("tick lease no longer held")

// Only the holder's token may delete or extend the key
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)
)

// Lease is a short Redis lock a scheduler replica holds while it runs a tick.
// It only keeps replicas from polling at the same time; firing stays at most
// once per run without it.
type Lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// AcquireLease takes the lease with SET NX. It returns nil, nil when another
// replica holds it.
func AcquireLease(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.New().String()

	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tick lease: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{client: client, key: key, token: token, ttl: ttl}, nil
}

// Release gives the lease up if this replica still holds it
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release tick lease: %w", err)
	}
	return nil
}

// Extend resets the lease TTL. It returns ErrLeaseLost once the lease expired
// and someone else took it.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend tick lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	l.ttl = ttl
	return nil
}

// Key returns the Redis key of the lease
func (l *Lease) Key() string { return l.key }

// Token identifies this holder
func (l *Lease) Token() string { return l.token }

// TTL returns the lease time-to-live
func (l *Lease) TTL() time.Duration { return l.ttl }
