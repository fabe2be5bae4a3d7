package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLimiterPacesPerSender(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := newLocalLimiter(time.Second, 10, func() time.Time { return now })
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "ops@fund.com")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("first send should be allowed")
	}

	allowed, err = limiter.Allow(ctx, "OPS@fund.com")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("second send inside the interval should be rejected")
	}

	allowed, err = limiter.Allow(ctx, "other@fund.com")
	if err != nil {
		t.Fatalf("Allow(other) error = %v", err)
	}
	if !allowed {
		t.Fatal("other sender should have its own pace")
	}

	now = now.Add(time.Second)
	allowed, err = limiter.Allow(ctx, "ops@fund.com")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("send after the interval should be allowed")
	}
}

func TestLocalLimiterDailyQuota(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	limiter := newLocalLimiter(time.Millisecond, 2, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		now = now.Add(time.Second)
		allowed, err := limiter.Allow(ctx, "ops@fund.com")
		if err != nil {
			t.Fatalf("Allow(%d) error = %v", i, err)
		}
		if !allowed {
			t.Fatalf("Allow(%d) should be allowed", i)
		}
	}

	now = now.Add(time.Second)
	if _, err := limiter.Allow(ctx, "ops@fund.com"); !errors.Is(err, ErrDailyLimitReached) {
		t.Fatalf("Allow() error = %v, want ErrDailyLimitReached", err)
	}
	if err := limiter.Wait(ctx, "ops@fund.com"); !errors.Is(err, ErrDailyLimitReached) {
		t.Fatalf("Wait() error = %v, want ErrDailyLimitReached", err)
	}

	now = now.Add(2 * time.Hour)
	allowed, err := limiter.Allow(ctx, "ops@fund.com")
	if err != nil {
		t.Fatalf("Allow() next day error = %v", err)
	}
	if !allowed {
		t.Fatal("quota should reset on a new day")
	}
}

func TestLocalLimiterWaitHonoursContext(t *testing.T) {
	t.Parallel()

	limiter := NewLocalLimiter(time.Hour, 10)

	if err := limiter.Wait(context.Background(), "ops@fund.com"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "ops@fund.com"); err == nil {
		t.Fatal("Wait() should fail when the next slot is beyond the deadline")
	}
}

func TestLocalLimiterRejectsEmptySender(t *testing.T) {
	t.Parallel()

	limiter := NewLocalLimiter(0, 0)
	if _, err := limiter.Allow(context.Background(), " "); err == nil {
		t.Fatal("Allow() should reject an empty sender")
	}
}
