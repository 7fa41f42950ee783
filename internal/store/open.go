package store

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/config"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/schedule"
)

// Open builds the schedule store selected by cfg. client is only used by the
// redis backend. The returned close function releases backend resources other
// than the shared Redis client.
func Open(cfg config.StoreConfig, client *redis.Client) (schedule.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.StoreMemory:
		return NewMemoryStore(), noop, nil
	case config.StoreRedis:
		if client == nil {
			return nil, nil, fmt.Errorf("redis store backend needs a Redis client")
		}
		return NewRedisStore(client), noop, nil
	case config.StoreSQL:
		s, err := NewSQLStore(cfg.SQLPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}
