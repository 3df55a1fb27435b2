// Package redislimiter is a sliding-window core.RateLimiter shared by every API instance through Redis ZSETs.
package redislimiter

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"

	"github.com/circuscoach/backend/core"
)

const keyPrefix = "ratelimit:"

type Limiter struct {
	rdb    *redis.Client
	limits map[string]core.RateLimit
	now    func() time.Time
}

var _ core.RateLimiter = (*Limiter)(nil)

func New(rdb *redis.Client, limits map[string]core.RateLimit) *Limiter {
	if limits == nil {
		limits = map[string]core.RateLimit{}
	}
	return &Limiter{rdb: rdb, limits: limits, now: time.Now}
}

// Allow adds the request to the key's window and reports whether the window is still within the limit.
// A denied request is removed again.
func (l *Limiter) Allow(ctx context.Context, bucket, key string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, errors.New("bucket and key required")
	}

	lim := core.LimitFor(l.limits, bucket)
	now := l.now().UnixNano() / 1e6
	start := now - lim.Window.Milliseconds()
	limitKey := keyPrefix + key + ":" + bucket
	member := strconv.FormatInt(now, 10) + "-" + ksuid.New().String()

	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, limitKey, redis.Z{Score: float64(now), Member: member})
	pipe.ZRemRangeByScore(ctx, limitKey, "0", strconv.FormatInt(start, 10))
	countCmd := pipe.ZCard(ctx, limitKey)
	pipe.Expire(ctx, limitKey, lim.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrap(err, "rate limit pipeline")
	}

	count, err := countCmd.Result()
	if err != nil {
		return false, errors.Wrap(err, "rate limit count")
	}
	if count > int64(lim.Limit) {
		if err := l.rdb.ZRem(ctx, limitKey, member).Err(); err != nil {
			return false, errors.Wrap(err, "rate limit rollback")
		}
		return false, nil
	}
	return true, nil
}
