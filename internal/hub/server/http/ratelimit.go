package http

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// limiterIdle is how long a device's bucket survives without requests.
const limiterIdle = 10 * time.Minute

// quota is the outcome of one rate-limited request.
type quota struct {
	allowed    bool
	limit      int
	remaining  int
	retryAfter time.Duration
}

// RetryAfterSeconds rounds the wait up to whole seconds, at least one.
func (q quota) RetryAfterSeconds() int {
	secs := int(math.Ceil(q.retryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// deviceLimiter is a token bucket per device identity. Devices behind one
// NAT share an address, so buckets are never keyed by it.
type deviceLimiter struct {
	mu      sync.Mutex
	perMin  int
	buckets map[string]*bucket
	clock   clock.PassiveClock
}

func newDeviceLimiter(perMinute int, clk clock.PassiveClock) *deviceLimiter {
	return &deviceLimiter{
		perMin:  perMinute,
		buckets: make(map[string]*bucket),
		clock:   clk,
	}
}

// take spends one token from the bucket of deviceID.
func (l *deviceLimiter) take(deviceID string) quota {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[deviceID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)}
		l.buckets[deviceID] = b
	}
	b.lastSeen = now

	q := quota{limit: l.perMin}
	if b.limiter.AllowN(now, 1) {
		q.allowed = true
	} else {
		r := b.limiter.ReserveN(now, 1)
		q.retryAfter = r.DelayFrom(now)
		r.CancelAt(now)
	}
	q.remaining = max(0, int(math.Floor(b.limiter.TokensAt(now))))
	return q
}

// evictIdle drops buckets unused for limiterIdle. A dropped bucket is
// full again on the next request, which is what an idle bucket would be.
func (l *deviceLimiter) evictIdle(context.Context) {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) >= limiterIdle {
			delete(l.buckets, id)
		}
	}
}

func (l *deviceLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
