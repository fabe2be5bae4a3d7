package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/investor-mailer/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	backoffMin    = 10 * time.Millisecond
	dailyKeyTTL   = 48 * time.Hour
	dailyKeyStamp = "20060102"
)

// paceScript returns -1 when the daily quota is spent, 0 when a send slot was
// taken, or the milliseconds left until the next slot.
var paceScript = goredis.NewScript(`
local sent = tonumber(redis.call("GET", KEYS[2]) or "0")
if sent >= tonumber(ARGV[2]) then
  return -1
end
if not redis.call("SET", KEYS[1], "1", "PX", ARGV[1], "NX") then
  local ttl = redis.call("PTTL", KEYS[1])
  if ttl < 1 then
    ttl = 1
  end
  return ttl
end
local current = redis.call("INCR", KEYS[2])
if current == 1 then
  redis.call("EXPIRE", KEYS[2], ARGV[3])
end
return 0
`)

var _ ratelimit.SendLimiter = (*RedisSendLimiter)(nil)

// RedisSendLimiter paces sends per sender account across processes and
// enforces a per-day quota keyed by UTC date.
type RedisSendLimiter struct {
	client     *goredis.Client
	interval   time.Duration
	dailyLimit int64
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	script     *goredis.Script
}

func NewRedisSendLimiter(client *goredis.Client, interval time.Duration, dailyLimit int) (*RedisSendLimiter, error) {
	return newRedisSendLimiter(
		client,
		interval,
		int64(dailyLimit),
		time.Now,
		sleepWithContext,
	)
}

func newRedisSendLimiter(
	client *goredis.Client,
	interval time.Duration,
	dailyLimit int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisSendLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if interval < time.Millisecond {
		interval = ratelimit.DefaultSendInterval
	}
	if dailyLimit <= 0 {
		dailyLimit = ratelimit.DefaultDailyLimit
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisSendLimiter{
		client:     client,
		interval:   interval,
		dailyLimit: dailyLimit,
		now:        nowFn,
		sleep:      sleepFn,
		script:     paceScript,
	}, nil
}

// reserve takes a slot if one is free. It returns the time to wait otherwise.
func (r *RedisSendLimiter) reserve(ctx context.Context, sender string) (time.Duration, error) {
	if r == nil || r.client == nil || r.script == nil {
		return 0, fmt.Errorf("send limiter is not initialized")
	}

	normalizedSender := strings.ToLower(strings.TrimSpace(sender))
	if normalizedSender == "" {
		return 0, fmt.Errorf("sender is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	day := r.now().UTC().Format(dailyKeyStamp)
	keys := []string{
		fmt.Sprintf("mail:pace:%s", normalizedSender),
		fmt.Sprintf("mail:daily:%s:%s", normalizedSender, day),
	}
	result, err := r.script.Run(
		ctx,
		r.client,
		keys,
		r.interval.Milliseconds(),
		r.dailyLimit,
		int64(dailyKeyTTL.Seconds()),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate send limit: %w", err)
	}

	if result < 0 {
		return 0, fmt.Errorf("%w: %d sends for %s", ratelimit.ErrDailyLimitReached, r.dailyLimit, normalizedSender)
	}
	return time.Duration(result) * time.Millisecond, nil
}

func (r *RedisSendLimiter) Allow(ctx context.Context, sender string) (bool, error) {
	wait, err := r.reserve(ctx, sender)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

func (r *RedisSendLimiter) Wait(ctx context.Context, sender string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		wait, err := r.reserve(ctx, sender)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}

		if err := r.sleep(ctx, max(wait, backoffMin)); err != nil {
			return err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
