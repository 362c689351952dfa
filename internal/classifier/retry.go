package classifier

import (
	"context"
	"time"

	"spendwise/internal/config"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real-clock Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	RetryOn     map[ErrorKind]bool
}

func DefaultRetryPolicy() RetryPolicy {
	return PolicyFrom(config.RetrySettings{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second})
}

// PolicyFrom builds a policy that retries the transient kinds.
func PolicyFrom(r config.RetrySettings) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: max(r.MaxAttempts, 1),
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		RetryOn: map[ErrorKind]bool{
			KindRateLimited: true,
			KindUnavailable: true,
			KindTimeout:     true,
		},
	}
}

// Delay is the wait after failed attempt n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) Retryable(err error) bool {
	return err != nil && p.RetryOn[KindOf(err)]
}
