package email

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a transient failure is retried. Attempts is
// the number of retries after the first try; zero disables retrying.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// SendWithRetry retries transient delivery failures with exponential backoff.
// Permanent failures (auth, malformed request) return after the first try.
func SendWithRetry(
	ctx context.Context,
	d Deliverer,
	msg Message,
	accessToken string,
	policy RetryPolicy,
	notify func(err error, wait time.Duration),
) error {

	var lastErr error

	operation := func() error {
		err := d.Send(ctx, msg, accessToken)
		if err == nil {
			return nil
		}

		lastErr = err
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	attempts := policy.Attempts
	if attempts < 0 {
		attempts = 0
	}

	err := backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts)), ctx),
		notify,
	)
	if err != nil && ctx.Err() != nil && lastErr != nil && err != lastErr {
		return fmt.Errorf("%w (retry aborted: %v)", lastErr, ctx.Err())
	}

	return err
}
