package data

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"TrendGate/internal/conf"
	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// RedisGrantLedger stores gate grant timestamps in a sorted set scored by
// unix milliseconds. Members carry the exact nanosecond timestamp.
type RedisGrantLedger struct {
	rdb    *redis.Client
	key    string
	window time.Duration
	seq    atomic.Uint64
	log    *pkglog.LogHelper
}

// NewGrantLedger returns a ledger when gate.persist_window is on and Redis is
// configured, nil otherwise.
func NewGrantLedger(g *conf.Gate, rdb *redis.Client, logger log.Logger) *RedisGrantLedger {
	if g == nil || !g.PersistWindow || rdb == nil {
		return nil
	}
	key := g.LedgerKey
	if key == "" {
		key = "trendgate:gate:grants"
	}
	window := g.Window
	if window <= 0 {
		window = time.Hour
	}
	return &RedisGrantLedger{rdb: rdb, key: key, window: window, log: pkglog.NewLogHelper(logger)}
}

// Load returns grants at or after since, ascending.
func (l *RedisGrantLedger) Load(ctx context.Context, since time.Time) ([]time.Time, error) {
	members, err := l.rdb.ZRangeByScore(ctx, l.key, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore %s: %w", l.key, err)
	}

	out := make([]time.Time, 0, len(members))
	for _, m := range members {
		ns, err := strconv.ParseInt(strings.SplitN(m, "-", 2)[0], 10, 64)
		if err != nil {
			continue
		}
		at := time.Unix(0, ns)
		if at.Before(since) {
			continue
		}
		out = append(out, at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	l.log.Storage("Grant ledger loaded", "key", l.key, "grants", len(out))
	return out, nil
}

// Append records one grant and trims entries older than the window.
func (l *RedisGrantLedger) Append(ctx context.Context, at time.Time) error {
	member := strconv.FormatInt(at.UnixNano(), 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)
	cutoff := at.Add(-l.window).UnixMilli()

	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, l.key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
		p.ZRemRangeByScore(ctx, l.key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		p.Expire(ctx, l.key, 2*l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append grant %s: %w", l.key, err)
	}
	return nil
}

// Clear drops every recorded grant.
func (l *RedisGrantLedger) Clear(ctx context.Context) error {
	if err := l.rdb.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", l.key, err)
	}
	return nil
}
