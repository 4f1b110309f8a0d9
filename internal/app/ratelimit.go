package app

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	loginWindow        = time.Minute
	maxTrackedLimiters = 4096
)

type attemptCounter interface {
	CountAttempt(ctx context.Context, key string, window time.Duration) (int64, error)
}

// loginLimiter throttles sign-in attempts per client key. With a Redis counter
// the budget is shared across instances; otherwise each process keeps a token
// bucket per key.
type loginLimiter struct {
	perMinute int
	counter   attemptCounter

	mu    sync.Mutex
	local *lru.Cache[string, *rate.Limiter]
}

func newLoginLimiter(perMinute int, counter attemptCounter) *loginLimiter {
	local, _ := lru.New[string, *rate.Limiter](maxTrackedLimiters)
	return &loginLimiter{perMinute: perMinute, counter: counter, local: local}
}

// Allow reports whether another attempt for key fits the budget. A zero or
// negative budget disables throttling.
func (l *loginLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}
	if l.counter != nil {
		n, err := l.counter.CountAttempt(ctx, "login:"+key, loginWindow)
		if err == nil {
			return n <= int64(l.perMinute)
		}
	}
	return l.bucket(key).Allow()
}

func (l *loginLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.local.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Every(loginWindow/time.Duration(l.perMinute)), l.perMinute)
	l.local.Add(key, lim)
	return lim
}
