package policy

import (
	"context"
	"errors"
	"time"

	"github.com/user/modelgate/pkg/llm"
)

// Timeout races the wrapped blocking call against a deadline. On expiry the
// in-flight call is canceled through its context and the caller receives a
// retryable Timeout record.
func Timeout(d time.Duration) Middleware {
	return func(next CompleteFunc) CompleteFunc {
		return func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			resp, err := next(tctx, provider, req)
			if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, &llm.ErrorRecord{
					Kind:      llm.KindTimeout,
					Message:   "call exceeded timeout of " + d.String(),
					Provider:  provider,
					Retryable: true,
					Cause:     err,
				}
			}
			return resp, err
		}
	}
}

// StreamTimeout bounds stream setup (everything up to the channel being
// returned). The deadline does not extend over the life of the stream; a
// healthy long stream must not be killed by its own setup timeout.
func StreamTimeout(d time.Duration) StreamMiddleware {
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, provider string, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			cctx, cancel := context.WithCancel(ctx)

			type result struct {
				ch  <-chan llm.StreamChunk
				err error
			}
			done := make(chan result, 1)
			go func() {
				ch, err := next(cctx, provider, req)
				done <- result{ch, err}
			}()

			timer := time.NewTimer(d)
			defer timer.Stop()

			select {
			case r := <-done:
				if r.err != nil {
					cancel()
					return nil, r.err
				}
				// Forward chunks so the derived context is released
				// as soon as the stream ends, even when the caller's
				// ctx is never cancelled.
				out := make(chan llm.StreamChunk)
				go func() {
					defer cancel()
					defer close(out)
					for chunk := range r.ch {
						select {
						case out <- chunk:
						case <-ctx.Done():
							return
						}
					}
				}()
				return out, nil
			case <-timer.C:
				cancel()
				return nil, &llm.ErrorRecord{
					Kind:      llm.KindTimeout,
					Message:   "stream setup exceeded timeout of " + d.String(),
					Provider:  provider,
					Retryable: true,
				}
			}
		}
	}
}
