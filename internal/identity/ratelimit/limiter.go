// Package ratelimit throttles login attempts per client IP with token
// buckets.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/httputil"
	"consular/pkg/requestcontext"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one bucket per key. Idle buckets are evicted by Run.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	onLimit func()
}

// New allows perMinute events per key with the given burst.
func New(perMinute, burst int) *Limiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// OnLimit registers a callback invoked for every rejected event.
func (l *Limiter) OnLimit(fn func()) {
	l.onLimit = fn
}

func (l *Limiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.lim.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed && l.onLimit != nil {
		l.onLimit()
	}
	return allowed
}

// Middleware rejects requests over the limit with 429. The key is the
// client IP resolved by the metadata middleware.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(requestcontext.ClientIP(r.Context())) {
			w.Header().Set("Retry-After", "60")
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many login attempts, try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run evicts idle buckets until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *Limiter) evictIdle() {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
