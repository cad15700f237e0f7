// Package policy provides composable decorators around dispatcher calls:
// timeout, retry with backoff, fallback across configurations, and cost
// tracking. Each wrapper shares the dispatcher's call shape, so they
// compose by simple chaining and depend only on the error taxonomy.
package policy

import (
	"context"

	"github.com/user/modelgate/pkg/llm"
)

// CompleteFunc is the blocking call shape shared by the dispatcher and
// every wrapper.
type CompleteFunc func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error)

// StreamFunc is the streaming call shape. Setup failures return a
// synchronous error; once a channel is returned, chunks may already be in
// flight.
type StreamFunc func(ctx context.Context, provider string, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error)

// Middleware decorates a blocking call.
type Middleware func(CompleteFunc) CompleteFunc

// StreamMiddleware decorates a streaming call.
type StreamMiddleware func(StreamFunc) StreamFunc

// Chain composes middlewares outermost-first: Chain(a, b)(f) runs a around
// b around f.
func Chain(mws ...Middleware) Middleware {
	return func(next CompleteFunc) CompleteFunc {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// ChainStream composes stream middlewares outermost-first.
func ChainStream(mws ...StreamMiddleware) StreamMiddleware {
	return func(next StreamFunc) StreamFunc {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
