package data

import (
	"context"
	"os"
	"testing"
	"time"

	"TrendGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGrantLedger(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	logger := log.NewStdLogger(os.Stdout)

	assert.Nil(t, NewGrantLedger(&conf.Gate{PersistWindow: false}, rdb, logger))
	assert.Nil(t, NewGrantLedger(&conf.Gate{PersistWindow: true}, nil, logger))

	l := NewGrantLedger(&conf.Gate{PersistWindow: true, Window: time.Hour}, rdb, logger)
	require.NotNil(t, l)
	assert.Equal(t, "trendgate:gate:grants", l.key)
}

func TestRedisGrantLedger_AppendLoad(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	l := NewGrantLedger(&conf.Gate{PersistWindow: true, Window: time.Hour, LedgerKey: "test:grants"}, rdb, log.NewStdLogger(os.Stdout))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	for _, off := range []time.Duration{0, 10 * time.Second, 10 * time.Second, 30 * time.Minute} {
		require.NoError(t, l.Append(ctx, base.Add(off)))
	}

	got, err := l.Load(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 4, "identical timestamps are distinct grants")
	assert.True(t, got[0].Equal(base), "nanosecond precision survives")
	assert.True(t, got[3].Equal(base.Add(30*time.Minute)))

	got, err = l.Load(ctx, base.Add(5*time.Second))
	require.NoError(t, err)
	assert.Len(t, got, 3)

	assert.Equal(t, 2*time.Hour, mr.TTL("test:grants"))
}

func TestRedisGrantLedger_TrimsOutsideWindow(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	l := NewGrantLedger(&conf.Gate{PersistWindow: true, Window: time.Hour}, rdb, log.NewStdLogger(os.Stdout))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append(ctx, base))
	require.NoError(t, l.Append(ctx, base.Add(30*time.Minute)))
	require.NoError(t, l.Append(ctx, base.Add(90*time.Minute)))

	members, err := mr.ZMembers("trendgate:gate:grants")
	require.NoError(t, err)
	assert.Len(t, members, 2, "grant older than the window is trimmed on append")
}

func TestRedisGrantLedger_Clear(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	l := NewGrantLedger(&conf.Gate{PersistWindow: true, Window: time.Hour}, rdb, log.NewStdLogger(os.Stdout))
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, time.Now()))
	require.NoError(t, l.Clear(ctx))
	assert.False(t, mr.Exists("trendgate:gate:grants"))

	got, err := l.Load(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisGrantLedger_Unavailable(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	l := NewGrantLedger(&conf.Gate{PersistWindow: true, Window: time.Hour}, rdb, log.NewStdLogger(os.Stdout))
	mr.Close()
	ctx := context.Background()

	assert.Error(t, l.Append(ctx, time.Now()))
	_, err := l.Load(ctx, time.Now())
	assert.Error(t, err)
}
