package ratelimit

import (
	"context"
	"errors"
)

// ErrDailyLimitReached is returned once a sender has used up its daily quota.
var ErrDailyLimitReached = errors.New("daily send limit reached")

// SendLimiter paces outgoing mail per sender account.
type SendLimiter interface {
	Allow(ctx context.Context, sender string) (bool, error)
	Wait(ctx context.Context, sender string) error
}
