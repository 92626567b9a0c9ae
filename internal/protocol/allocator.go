package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Prefix is prepended to every protocol number.
const Prefix = "ESIC"

// Format renders the protocol for the n-th request of a year.
func Format(year int, n int64) string {
	return fmt.Sprintf("%s-%d-%06d", Prefix, year, n)
}

// RedisAllocator hands out sequential protocols per calendar year using a
// redis counter. Counters are never reset, so a protocol is never reused.
// The year is read in loc so New Year's Eve does not depend on the host TZ.
type RedisAllocator struct {
	rdb redis.Cmdable
	loc *time.Location
	now func() time.Time
}

// NewRedisAllocator uses time.Local when loc is nil.
func NewRedisAllocator(rdb redis.Cmdable, loc *time.Location) *RedisAllocator {
	if loc == nil {
		loc = time.Local
	}
	return &RedisAllocator{rdb: rdb, loc: loc, now: time.Now}
}

func counterKey(year int) string {
	return fmt.Sprintf("esic:protocolo:%d", year)
}

// Next allocates the next protocol.
func (a *RedisAllocator) Next(ctx context.Context) (string, error) {
	year := a.now().In(a.loc).Year()
	n, err := a.rdb.Incr(ctx, counterKey(year)).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate protocolo: %w", err)
	}
	return Format(year, n), nil
}
