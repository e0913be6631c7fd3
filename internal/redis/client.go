package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout = 5 * time.Second
	opTimeout   = 2 * time.Second
)

// NewRedisClient connects to the instance backing the per-slot booking locks
// and fails fast when it is unreachable. Timeouts are kept short: a slow lock
// acquisition is worse than falling back to constraint-only conflict handling.
func NewRedisClient(addr, username, password string) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
		PoolSize:     10,
		MinIdleConns: 1,
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}

	return rdb, nil
}
