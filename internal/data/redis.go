package data

import (
	"context"
	"time"

	"TrendGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client when something needs one: the redis
// session driver or a persisted gate window. Otherwise it returns nil.
// A failed ping is logged and the client is still returned; callers treat
// Redis errors as a degraded store, not a fatal condition.
func NewRedisClient(c *conf.Data, g *conf.Gate, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	needed := (c != nil && c.Session != nil && c.Session.Driver == "redis") || (g != nil && g.PersistWindow)
	if !needed {
		return nil, func() {}, nil
	}
	if c == nil || c.Redis == nil || c.Redis.Addr == "" {
		helper.Warn("Redis address is empty, skipping Redis initialization")
		return nil, func() {}, nil
	}

	network := c.Redis.Network
	if network == "" {
		network = "tcp"
	}
	rdb := redis.NewClient(&redis.Options{
		Network:         network,
		Addr:            c.Redis.Addr,
		Password:        c.Redis.Password,
		DB:              c.Redis.DB,
		PoolSize:        10,
		MinIdleConns:    1,
		DialTimeout:     3 * time.Second,
		ReadTimeout:     c.Redis.ReadTimeout,
		WriteTimeout:    c.Redis.WriteTimeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		helper.Warnf("Failed to connect to Redis at %s: %v (continuing, Redis-backed state is degraded)", c.Redis.Addr, err)
	} else {
		helper.Infof("Successfully connected to Redis at %s", c.Redis.Addr)
	}

	cleanup := func() {
		helper.Info("Closing Redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("Failed to close Redis client: %v", err)
		}
	}
	return rdb, cleanup, nil
}
