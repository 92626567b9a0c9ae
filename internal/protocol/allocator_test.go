package protocol

import (
	"context"
	"os"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "ESIC-2025-000001", Format(2025, 1))
	assert.Equal(t, "ESIC-2025-123456", Format(2025, 123456))
	assert.Equal(t, "ESIC-2026-1234567", Format(2026, 1234567))
}

func TestRedisAllocator_Sequential(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	a := NewRedisAllocator(rdb, time.UTC)
	a.now = func() time.Time { return time.Date(1999, 6, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, rdb.Del(ctx, counterKey(1999)).Err())
	defer rdb.Del(context.Background(), counterKey(1999))

	first, err := a.Next(ctx)
	require.NoError(t, err)
	second, err := a.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, "ESIC-1999-000001", first)
	assert.Equal(t, "ESIC-1999-000002", second)
}

// countingRedis answers only INCR, which is all the allocator uses.
type countingRedis struct {
	redis.Cmdable
	keys []string
}

func (c *countingRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	c.keys = append(c.keys, key)
	return redis.NewIntResult(int64(len(c.keys)), nil)
}

func TestRedisAllocator_YearFollowsLocation(t *testing.T) {
	saoPaulo, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	// 02:30 UTC on Jan 1st is still New Year's Eve in Brasília.
	rdb := &countingRedis{}
	a := NewRedisAllocator(rdb, saoPaulo)
	a.now = func() time.Time { return time.Date(2026, 1, 1, 2, 30, 0, 0, time.UTC) }

	got, err := a.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ESIC-2025-000001", got)
	assert.Equal(t, []string{counterKey(2025)}, rdb.keys)
}
