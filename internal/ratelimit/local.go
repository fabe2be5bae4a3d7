package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultSendInterval = 1500 * time.Millisecond
	DefaultDailyLimit   = 500
)

var _ SendLimiter = (*LocalLimiter)(nil)

// LocalLimiter is an in-process SendLimiter used when no Redis is configured.
// Pacing uses a token bucket of size one; the daily quota resets at UTC midnight.
type LocalLimiter struct {
	interval   time.Duration
	dailyLimit int
	now        func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	day      string
	counts   map[string]int
}

func NewLocalLimiter(interval time.Duration, dailyLimit int) *LocalLimiter {
	return newLocalLimiter(interval, dailyLimit, time.Now)
}

func newLocalLimiter(interval time.Duration, dailyLimit int, nowFn func() time.Time) *LocalLimiter {
	if interval <= 0 {
		interval = DefaultSendInterval
	}
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &LocalLimiter{
		interval:   interval,
		dailyLimit: dailyLimit,
		now:        nowFn,
		limiters:   make(map[string]*rate.Limiter),
		counts:     make(map[string]int),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, sender string) (bool, error) {
	key, err := normalizeSender(sender)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkQuotaLocked(key); err != nil {
		return false, err
	}
	if !l.limiterLocked(key).AllowN(l.now(), 1) {
		return false, nil
	}
	l.counts[key]++
	return true, nil
}

func (l *LocalLimiter) Wait(ctx context.Context, sender string) error {
	key, err := normalizeSender(sender)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if err := l.checkQuotaLocked(key); err != nil {
		l.mu.Unlock()
		return err
	}
	limiter := l.limiterLocked(key)
	l.counts[key]++
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		l.mu.Lock()
		l.counts[key]--
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *LocalLimiter) checkQuotaLocked(key string) error {
	day := l.now().UTC().Format("20060102")
	if day != l.day {
		l.day = day
		clear(l.counts)
	}
	if l.counts[key] >= l.dailyLimit {
		return fmt.Errorf("%w: %d sends for %s", ErrDailyLimitReached, l.dailyLimit, key)
	}
	return nil
}

func (l *LocalLimiter) limiterLocked(key string) *rate.Limiter {
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[key] = limiter
	}
	return limiter
}

func normalizeSender(sender string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(sender))
	if key == "" {
		return "", fmt.Errorf("sender is required")
	}
	return key, nil
}
