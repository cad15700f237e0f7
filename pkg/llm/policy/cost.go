package policy

import (
	"context"
	"log/slog"

	"github.com/user/modelgate/pkg/llm"
)

// Rate holds per-token prices for one model.
type Rate struct {
	InputPerToken  float64
	OutputPerToken float64
}

// RateLookup resolves a model name to its rate. The table is caller-supplied
// read-only reference data.
type RateLookup func(model string) (Rate, bool)

// CostSink receives the computed cost of one successful call.
type CostSink func(model string, usage llm.Usage, costUSD float64) error

// Cost reports the cost of each successful call to the sink. It only fires
// when the response carries usage; unknown token counts are never estimated
// into a charge. A failing or panicking sink never affects the returned
// response.
func Cost(rates RateLookup, sink CostSink) Middleware {
	return func(next CompleteFunc) CompleteFunc {
		return func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			resp, err := next(ctx, provider, req)
			if err != nil || resp == nil || resp.Usage == nil {
				return resp, err
			}
			model := resp.Model
			if model == "" {
				model = req.Model
			}
			rate, ok := rates(model)
			if !ok {
				return resp, nil
			}
			cost := float64(resp.Usage.PromptTokens)*rate.InputPerToken +
				float64(resp.Usage.CompletionTokens)*rate.OutputPerToken
			report(sink, model, *resp.Usage, cost)
			return resp, nil
		}
	}
}

func report(sink CostSink, model string, usage llm.Usage, cost float64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cost sink panicked", "model", model, "panic", r)
		}
	}()
	if err := sink(model, usage, cost); err != nil {
		slog.Warn("cost sink failed", "model", model, "error", err)
	}
}
