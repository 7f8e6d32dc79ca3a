package hardware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how long a blocking hardware call may be retried while
// the caller holds the routing lock.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used for stream (re)open.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     40 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.1
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// IsTransient reports whether err is a hardware error worth retrying.
func IsTransient(err error) bool {
	var hwErr HardwareError
	return errors.As(err, &hwErr) && hwErr.Transient()
}

// OpenWithRetry opens a route's stream node, retrying transient failures with
// exponential backoff. Permanent failures are returned immediately.
func OpenWithRetry(ctx context.Context, gw Gateway, profileKey string, policy RetryPolicy) (Handle, error) {
	var h Handle
	op := func() error {
		var err error
		h, err = gw.OpenRoute(ctx, profileKey)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Debug("hardware: open failed, retrying", "profile", profileKey, "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, policy.backOff(ctx), notify); err != nil {
		return nil, err
	}
	return h, nil
}
