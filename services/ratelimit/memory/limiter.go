// Package memorylimiter is a single-node sliding-window core.RateLimiter.
package memorylimiter

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/circuscoach/backend/core"
)

// sweepInterval bounds how often Allow drops expired buckets.
const sweepInterval = time.Minute

type bucketState struct {
	bucket string
	// request times in Unix ms, oldest first
	timestamps []int64
}

type Limiter struct {
	mu      sync.Mutex
	limits  map[string]core.RateLimit
	buckets map[string]*bucketState
	now     func() time.Time

	lastSweep int64 // Unix ms
}

var _ core.RateLimiter = (*Limiter)(nil)

func New(limits map[string]core.RateLimit) *Limiter {
	if limits == nil {
		limits = map[string]core.RateLimit{}
	}
	return &Limiter{
		limits:  limits,
		buckets: make(map[string]*bucketState),
		now:     time.Now,
	}
}

// Allow records the request and reports whether it fits the bucket's window.
// Denied requests are not recorded.
func (l *Limiter) Allow(_ context.Context, bucket, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, errors.New("bucket and key required")
	}

	lim := core.LimitFor(l.limits, bucket)
	nowMs := l.now().UnixNano() / 1e6
	windowStart := nowMs - lim.Window.Milliseconds()
	limitKey := key + ":" + bucket

	l.mu.Lock()
	defer l.mu.Unlock()

	if nowMs-l.lastSweep >= sweepInterval.Milliseconds() {
		l.prune(nowMs)
		l.lastSweep = nowMs
	}

	b, ok := l.buckets[limitKey]
	if !ok {
		b = &bucketState{bucket: bucket}
		l.buckets[limitKey] = b
	}

	ts := b.timestamps
	i := 0
	for i < len(ts) && ts[i] <= windowStart {
		i++
	}
	ts = ts[i:]

	if len(ts) >= lim.Limit {
		b.timestamps = ts
		if len(ts) == 0 {
			delete(l.buckets, limitKey)
		}
		return false, nil
	}
	b.timestamps = append(ts, nowMs)
	return true, nil
}

// Prune drops buckets with no request inside their window.
// Allow already does this at most once per sweepInterval.
func (l *Limiter) Prune() {
	nowMs := l.now().UnixNano() / 1e6

	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(nowMs)
}

func (l *Limiter) prune(nowMs int64) {
	for limitKey, b := range l.buckets {
		if len(b.timestamps) == 0 {
			delete(l.buckets, limitKey)
			continue
		}
		lim := core.LimitFor(l.limits, b.bucket)
		if b.timestamps[len(b.timestamps)-1] <= nowMs-lim.Window.Milliseconds() {
			delete(l.buckets, limitKey)
		}
	}
}
