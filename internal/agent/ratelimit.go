package agent

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per room and throttles model calls.
type RateLimiter struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	limit rate.Limit
	burst int
	now   func() time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 5
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &RateLimiter{
		m:     make(map[string]*rate.Limiter),
		limit: rate.Limit(ratePerMinute / 60.0),
		burst: maxBurst,
		now:   time.Now,
	}
}

func (rl *RateLimiter) limiter(roomID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.m[roomID]; ok {
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.m[roomID] = l
	return l
}

// Wait blocks until roomID may call the model or ctx is done. It fails
// early when ctx's deadline would pass before a token frees up.
func (rl *RateLimiter) Wait(ctx context.Context, roomID string) error {
	return rl.limiter(roomID).Wait(ctx)
}

// Forget drops idle limiters that have refilled completely.
func (rl *RateLimiter) Forget() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	n := 0
	for id, l := range rl.m {
		if l.TokensAt(now) >= float64(rl.burst) {
			delete(rl.m, id)
			n++
		}
	}
	return n
}
