package core

import (
	"context"
	"time"
)

// RateLimitDefaultBucket applies to buckets with no limit of their own.
const RateLimitDefaultBucket = "default"

type (
	// RateLimit allows Limit requests per key within a sliding Window.
	RateLimit struct {
		Limit  int
		Window time.Duration
	}

	// RateLimiter counts requests per (bucket, key).
	RateLimiter interface {
		Allow(ctx context.Context, bucket, key string) (bool, error)
	}
)

// RateLimits builds the per-bucket limits from conf.RateLimit.
func RateLimits(conf *Config) map[string]RateLimit {
	return map[string]RateLimit{
		RateLimitDefaultBucket: {Limit: conf.RateLimit.Limit, Window: conf.RateLimit.Window},
	}
}

// LimitFor returns the bucket's limit, the default bucket's, or 100 per minute.
func LimitFor(limits map[string]RateLimit, bucket string) RateLimit {
	if v, ok := limits[bucket]; ok {
		return v
	}
	if v, ok := limits[RateLimitDefaultBucket]; ok {
		return v
	}
	return RateLimit{Limit: 100, Window: time.Minute}
}
