package aemet

import (
	"context"
	"time"

	"github.com/yegors/aemet-connector/pkg/logger"
)

// RetryPolicy wraps a hop with bounded retries on retryable failures.
// The zero value performs a single attempt.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	Backoff    bool // double the delay after each retry
}

// DefaultRetryPolicy tolerates a cold-starting relay: two retries, three seconds apart
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Delay: 3 * time.Second}
}

func (p RetryPolicy) wait(retry int) time.Duration {
	d := p.Delay
	if p.Backoff {
		for i := 1; i < retry; i++ {
			d *= 2
		}
	}
	return d
}

// Budget returns the longest a hop can take when every attempt is bounded by
// timeout: all attempts plus the waits between them.
func (p RetryPolicy) Budget(timeout time.Duration) time.Duration {
	total := time.Duration(p.MaxRetries+1) * timeout
	for retry := 1; retry <= p.MaxRetries; retry++ {
		total += p.wait(retry)
	}
	return total
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, the
// retries are exhausted or ctx is done. The last error is returned.
func withRetry[T any](ctx context.Context, p RetryPolicy, log *logger.Logger, stage Stage, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := p.wait(attempt)
			log.Info("Retrying AEMET request",
				logger.String("stage", string(stage)),
				logger.Int("attempt", attempt+1),
				logger.Int("max_attempts", p.MaxRetries+1),
				logger.Duration("backoff", wait))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, &PipelineError{Stage: stage, Kind: ErrUpstreamUnavailable, Description: "cancelled while waiting to retry", Err: ctx.Err()}
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info("AEMET request succeeded after retries",
					logger.String("stage", string(stage)),
					logger.Int("attempts_needed", attempt+1))
			}
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil {
			return zero, err
		}
		log.Warn("AEMET request failed, may retry",
			logger.String("stage", string(stage)),
			logger.Error(err),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", p.MaxRetries+1))
	}

	log.Error("All AEMET request attempts failed",
		logger.String("stage", string(stage)),
		logger.Error(lastErr),
		logger.Int("max_attempts", p.MaxRetries+1))
	return zero, lastErr
}
