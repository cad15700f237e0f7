// Package costtrack accumulates per-model completion costs from reported
// token usage. Rate tables are read-only reference data; the tracker is the
// cost-tracking wrapper's sink.
package costtrack

import (
	"sync"

	"github.com/user/modelgate/pkg/llm"
	"github.com/user/modelgate/pkg/llm/policy"
)

// ModelRate defines per-million-token cost for a model, in USD.
type ModelRate struct {
	InputPer1M  float64 `json:"input_per_1m" mapstructure:"input_per_1m"`
	OutputPer1M float64 `json:"output_per_1m" mapstructure:"output_per_1m"`
}

// Cost is accumulated spend in USD.
type Cost struct {
	Input  float64 `json:"input_cost"`
	Output float64 `json:"output_cost"`
	Total  float64 `json:"total_cost"`
}

// Tracker accumulates costs per model.
type Tracker struct {
	mu    sync.RWMutex
	rates map[string]ModelRate
	costs map[string]Cost
}

// New creates a cost tracker over a rate table. The "*" entry, when
// present, is the fallback rate for unlisted models.
func New(rates map[string]ModelRate) *Tracker {
	if rates == nil {
		rates = map[string]ModelRate{}
	}
	return &Tracker{
		rates: rates,
		costs: make(map[string]Cost),
	}
}

// Rate resolves a model's per-token rates for the policy cost wrapper.
func (t *Tracker) Rate(model string) (policy.Rate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rates[model]
	if !ok {
		r, ok = t.rates["*"]
	}
	if !ok {
		return policy.Rate{}, false
	}
	return policy.Rate{
		InputPerToken:  r.InputPer1M / 1_000_000,
		OutputPerToken: r.OutputPer1M / 1_000_000,
	}, true
}

// Record accumulates one call's cost under its model.
func (t *Tracker) Record(model string, usage llm.Usage, costUSD float64) error {
	rate, ok := t.Rate(model)
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.costs[model]
	if ok {
		c.Input += float64(usage.PromptTokens) * rate.InputPerToken
		c.Output += float64(usage.CompletionTokens) * rate.OutputPerToken
	}
	c.Total += costUSD
	t.costs[model] = c
	return nil
}

// Total returns the accumulated cost for one model.
func (t *Tracker) Total(model string) Cost {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.costs[model]
}

// Snapshot returns per-model costs plus the overall total, for status
// surfaces.
func (t *Tracker) Snapshot() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	perModel := make(map[string]Cost, len(t.costs))
	var total Cost
	for model, c := range t.costs {
		perModel[model] = c
		total.Input += c.Input
		total.Output += c.Output
		total.Total += c.Total
	}
	return map[string]any{
		"total_cost_usd": total.Total,
		"per_model":      perModel,
	}
}
