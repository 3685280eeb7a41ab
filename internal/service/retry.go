package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
	"github.com/josh-kwaku/eventsourced-accounts/internal/logging"
)

// RetryPolicy bounds how often a command is re-run after losing an
// optimistic-concurrency race.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
	}
}

// do runs attempt until it succeeds, fails with anything other than a version
// conflict, or the retries run out. Every attempt must start from a fresh load.
func (p RetryPolicy) do(ctx context.Context, op string, attempt func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)

	tries := 0
	return backoff.RetryNotify(
		func() error {
			tries++
			err := attempt()
			if err == nil || errors.Is(err, domain.ErrVersionConflict) {
				return err
			}
			return backoff.Permanent(err)
		},
		b,
		func(err error, wait time.Duration) {
			logging.FromContext(ctx).Warn("version conflict, reloading",
				"op", op,
				"attempt", tries,
				"retry_in_ms", wait.Milliseconds(),
				"error", err,
			)
		},
	)
}
