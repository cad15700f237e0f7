package costtrack

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/modelgate/pkg/llm"
)

// Estimator approximates prompt token counts for backends that report no
// usage. Estimates feed logging and budgeting only; they are never written
// into a response.
type Estimator struct {
	tokenizer *tiktoken.Tiktoken
}

// NewEstimator creates an estimator for the given model name, falling back
// to the cl100k_base encoding for unknown models.
func NewEstimator(model string) (*Estimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Estimator{tokenizer: enc}, nil
}

// CountTokens returns the token count for a string.
func (e *Estimator) CountTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// EstimatePrompt approximates the prompt tokens of a request: the sum over
// messages of content tokens plus a small per-message framing overhead.
func (e *Estimator) EstimatePrompt(req *llm.CompletionRequest) int {
	const perMessageOverhead = 4
	total := 0
	for _, msg := range req.Messages {
		total += e.CountTokens(msg.Content) + perMessageOverhead
		for _, tc := range msg.ToolCalls {
			total += e.CountTokens(tc.Arguments)
		}
	}
	return total
}
