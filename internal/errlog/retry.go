package errlog

import (
	"context"
	"fmt"
	"time"
)

// defaultDelays is the backoff schedule between attempts. Three attempts
// total: fail, wait 1s, fail, wait 2s, fail -> give up. The 4s slot only
// applies when the schedule is lengthened via RetryOptions.
var defaultDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

const defaultMaxAttempts = 3

// RetryOptions overrides the default retry schedule.
type RetryOptions struct {
	MaxAttempts int
	Delays      []time.Duration
}

// Retry runs op up to three times with 1s/2s backoff between attempts.
// Every failure is recorded (recovered=false, with any API recovery hint
// attached); a late success records a recovered entry. After exhaustion the
// final error is returned to the caller, who decides whether a fallback
// exists. A Permanent-wrapped failure stops the loop after the first
// attempt. Retries are scoped to this invocation only; nothing is durable.
func (r *Reporter) Retry(ctx context.Context, label string, op func(ctx context.Context) error) error {
	return r.RetryWith(ctx, label, RetryOptions{}, op)
}

// RetryWith is Retry with an explicit schedule.
func (r *Reporter) RetryWith(ctx context.Context, label string, opts RetryOptions, op func(ctx context.Context) error) error {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	delays := opts.Delays
	if len(delays) == 0 {
		delays = defaultDelays
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				r.Record(Entry{
					Type:           Classify(lastErr),
					Message:        fmt.Sprintf("%s succeeded after %d retries", label, attempt-1),
					Recovered:      true,
					RecoveryAction: "retry",
				})
			}
			return nil
		}
		lastErr = err

		r.Record(Entry{
			Type:           Classify(err),
			Message:        fmt.Sprintf("%s failed (attempt %d/%d)", label, attempt, maxAttempts),
			Details:        err.Error(),
			Recovered:      false,
			RecoveryAction: RecoveryHint(err),
		})

		if IsPermanent(err) || attempt >= maxAttempts {
			break
		}

		delay := delays[min(attempt-1, len(delays)-1)]
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s: %w", label, lastErr)
}
