// Package data provides data access layer implementations.
// It persists the identity session record and the admission gate's grant ledger.
package data

import (
	"TrendGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	ProvideSessionStore,
	ProvideGrantLedger,
)

// Data contains all data layer dependencies. Either client may be nil when
// the configuration does not need it.
type Data struct {
	rdb *redis.Client
	db  *gorm.DB
}

// NewData creates a new Data instance with all data layer dependencies.
func NewData(c *conf.Data, logger log.Logger, rdb *redis.Client, db *gorm.DB) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	driver := "file"
	if c != nil && c.Session != nil {
		driver = c.Session.Driver
	}
	helper.Infow("msg", "data layer ready", "session_driver", driver, "redis", rdb != nil, "mysql", db != nil)

	cleanup := func() {
		helper.Info("closing the data resources")
	}
	return &Data{rdb: rdb, db: db}, cleanup, nil
}

// Redis returns the Redis client, nil when Redis is not configured.
func (d *Data) Redis() *redis.Client {
	if d == nil {
		return nil
	}
	return d.rdb
}

// DB returns the MySQL handle, nil unless the session driver is mysql.
func (d *Data) DB() *gorm.DB {
	if d == nil {
		return nil
	}
	return d.db
}

// ProvideSessionStore builds the configured session store over the shared clients.
func ProvideSessionStore(c *conf.Data, d *Data, logger log.Logger) (SessionStore, error) {
	return NewSessionStore(c, d.Redis(), d.DB(), logger)
}

// ProvideGrantLedger builds the gate ledger, nil when the window is not persisted.
func ProvideGrantLedger(g *conf.Gate, d *Data, logger log.Logger) *RedisGrantLedger {
	return NewGrantLedger(g, d.Redis(), logger)
}
