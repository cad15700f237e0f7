package policy

import (
	"context"
	"math"
	"time"

	"github.com/user/modelgate/pkg/llm"
)

// RetryPolicy controls how failed calls are retried with exponential
// backoff. Pure configuration; each call recomputes its delay from the
// attempt number.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns a RetryPolicy with sensible defaults:
// 3 attempts, 1s base delay, 2x multiplier, 30s max delay.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// NextDelay returns the backoff delay for the given attempt number
// (1-indexed): BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// delayFor picks the sleep before the next attempt. A backend-supplied
// retry-after hint takes precedence over the computed backoff, verbatim.
func (p *RetryPolicy) delayFor(rec *llm.ErrorRecord, attempt int) time.Duration {
	if rec != nil && rec.RetryAfterSeconds != nil {
		return time.Duration(*rec.RetryAfterSeconds * float64(time.Second))
	}
	return p.NextDelay(attempt)
}

// maxAttempts clamps MaxAttempts to at least one call, so a zero-value
// policy still performs the underlying call instead of returning neither a
// response nor an error.
func (p *RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Retry retries the wrapped blocking call on retryable records, sleeping
// with exponential backoff between attempts, up to MaxAttempts total calls.
// Non-retryable records return immediately.
func Retry(p *RetryPolicy) Middleware {
	return func(next CompleteFunc) CompleteFunc {
		return func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			attempts := p.maxAttempts()
			var lastErr error
			for attempt := 1; attempt <= attempts; attempt++ {
				resp, err := next(ctx, provider, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				rec, ok := llm.AsErrorRecord(err)
				if !ok || !rec.Retryable {
					return nil, err
				}
				if attempt < attempts {
					if err := sleep(ctx, p.delayFor(rec, attempt)); err != nil {
						return nil, lastErr
					}
				}
			}
			return nil, lastErr
		}
	}
}

// RetryStream retries stream setup. Only synchronous setup errors are ever
// retried: once a channel has been returned, chunks may already have
// reached the consumer and a retry would duplicate delivered output.
func RetryStream(p *RetryPolicy) StreamMiddleware {
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, provider string, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			attempts := p.maxAttempts()
			var lastErr error
			for attempt := 1; attempt <= attempts; attempt++ {
				ch, err := next(ctx, provider, req)
				if err == nil {
					return ch, nil
				}
				lastErr = err

				rec, ok := llm.AsErrorRecord(err)
				if !ok || !rec.Retryable {
					return nil, err
				}
				if attempt < attempts {
					if err := sleep(ctx, p.delayFor(rec, attempt)); err != nil {
						return nil, lastErr
					}
				}
			}
			return nil, lastErr
		}
	}
}

// sleep waits for d or until ctx ends, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
