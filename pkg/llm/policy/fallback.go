package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/modelgate/pkg/llm"
)

// Target is one (provider, model) configuration in a fallback list. An
// empty Model keeps the request's own model.
type Target struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// Attempt records one failed fallback try.
type Attempt struct {
	Target Target
	Err    *llm.ErrorRecord
}

// FallbackError aggregates every attempt's failure when no target in the
// list succeeded.
type FallbackError struct {
	attempts []Attempt
}

func (e *FallbackError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d fallback targets failed:", len(e.attempts))
	for _, a := range e.attempts {
		fmt.Fprintf(&b, " [%s/%s: %s]", a.Target.Provider, a.Target.Model, a.Err.Kind)
	}
	return b.String()
}

// Attempts returns the per-target failures in try order.
func (e *FallbackError) Attempts() []Attempt {
	return e.attempts
}

// Fallback tries each target in order, overriding the request's provider
// and model per target. The first target that succeeds wins; if all fail
// the caller receives a *FallbackError enumerating every attempt.
func Fallback(targets []Target) Middleware {
	return func(next CompleteFunc) CompleteFunc {
		return func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if len(targets) == 0 {
				return next(ctx, provider, req)
			}
			var attempts []Attempt
			for _, t := range targets {
				if ctx.Err() != nil {
					break
				}
				r := withTarget(req, t)
				resp, err := next(ctx, t.Provider, r)
				if err == nil {
					return resp, nil
				}
				attempts = append(attempts, Attempt{Target: t, Err: recordFor(t.Provider, err)})
			}
			return nil, &FallbackError{attempts: attempts}
		}
	}
}

// FallbackStream is the streaming variant. Only synchronous setup failures
// advance to the next target; a returned channel is final.
func FallbackStream(targets []Target) StreamMiddleware {
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, provider string, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			if len(targets) == 0 {
				return next(ctx, provider, req)
			}
			var attempts []Attempt
			for _, t := range targets {
				if ctx.Err() != nil {
					break
				}
				r := withTarget(req, t)
				ch, err := next(ctx, t.Provider, r)
				if err == nil {
					return ch, nil
				}
				attempts = append(attempts, Attempt{Target: t, Err: recordFor(t.Provider, err)})
			}
			return nil, &FallbackError{attempts: attempts}
		}
	}
}

func withTarget(req *llm.CompletionRequest, t Target) *llm.CompletionRequest {
	if t.Model == "" || t.Model == req.Model {
		return req
	}
	r := *req
	r.Model = t.Model
	return &r
}

func recordFor(provider string, err error) *llm.ErrorRecord {
	if rec, ok := llm.AsErrorRecord(err); ok {
		return rec
	}
	return &llm.ErrorRecord{
		Kind:     llm.KindProviderError,
		Message:  err.Error(),
		Provider: provider,
		Cause:    err,
	}
}
