package redislimiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circuscoach/backend/core"
)

func setup(t *testing.T, limits map[string]core.RateLimit) (*Limiter, *miniredis.Miniredis, *time.Time) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l := New(rdb, limits)
	l.now = func() time.Time { return now }
	return l, mr, &now
}

func TestLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	l, mr, now := setup(t, map[string]core.RateLimit{
		core.RateLimitDefaultBucket: {Limit: 2, Window: time.Minute},
	})

	allow := func(bucket, key string) bool {
		ok, err := l.Allow(ctx, bucket, key)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, allow("purchases", "u1"))
	assert.True(t, allow("purchases", "u1"))
	assert.False(t, allow("purchases", "u1"))
	assert.True(t, allow("purchases", "u2"))

	members, err := mr.ZMembers("ratelimit:u1:purchases")
	require.NoError(t, err)
	assert.Len(t, members, 2, "denied requests are not kept")
	assert.True(t, mr.TTL("ratelimit:u1:purchases") > 0)

	*now = now.Add(61 * time.Second)
	assert.True(t, allow("purchases", "u1"))

	_, err = l.Allow(ctx, "", "u1")
	assert.Error(t, err)
}

func TestLimiter_Allow_redisDown(t *testing.T) {
	l, mr, _ := setup(t, nil)
	mr.Close()

	ok, err := l.Allow(context.Background(), "purchases", "u1")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestLimiter_Allow_nil(t *testing.T) {
	var l *Limiter
	ok, err := l.Allow(context.Background(), "purchases", "u1")
	assert.NoError(t, err)
	assert.True(t, ok)
}
