// Package openai implements the llm.Adapter contract for OpenAI-compatible
// chat completion APIs (OpenAI itself, plus the many servers that speak the
// same wire format).
package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/modelgate/pkg/llm"
)

// Client implements llm.Adapter for OpenAI-compatible backends.
type Client struct {
	name       string
	config     *llm.Config
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithName overrides the provider name the adapter registers under.
func WithName(name string) ClientOption {
	return func(c *Client) { c.name = name }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// New creates an OpenAI-compatible adapter with the given configuration.
func New(config *llm.Config, opts ...ClientOption) *Client {
	c := &Client{
		name:   "openai",
		config: config,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: true, ToolCalling: true}
}

func (c *Client) Framing() llm.Framing { return llm.FramingSSE }

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model         string          `json:"model"`
	Messages      []wireMessage   `json:"messages"`
	Tools         []wireTool      `json:"tools,omitempty"`
	ToolChoice    string          `json:"tool_choice,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	Stop          []string        `json:"stop,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StreamOptions *wireStreamOpts `json:"stream_options,omitempty"`
}

type wireStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string      `json:"type"`
	Function wireToolDef `json:"function"`
}

type wireToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// chatResponse is the OpenAI chat completions response body.
type chatResponse struct {
	ID      string       `json:"id"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage"`
}

type wireChoice struct {
	Index        int                 `json:"index"`
	Message      wireResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type wireResponseMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatChunk is one streamed SSE event payload.
type chatChunk struct {
	Choices []chunkChoice `json:"choices"`
	Usage   *wireUsage    `json:"usage"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason"`
}

type chunkDelta struct {
	Content   string          `json:"content"`
	ToolCalls []chunkToolCall `json:"tool_calls"`
}

type chunkToolCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id"`
	Function wireFunction `json:"function"`
}

// Transform renders a normalized request into the OpenAI wire format.
func (c *Client) Transform(req *llm.CompletionRequest) (*llm.WireRequest, error) {
	messages := make([]wireMessage, len(req.Messages))
	for i, msg := range req.Messages {
		wm := wireMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages[i] = wm
	}

	body := chatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      req.Stream,
		ToolChoice:  string(req.ToolChoice),
	}
	if req.Stream {
		body.StreamOptions = &wireStreamOpts{IncludeUsage: true}
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireToolDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.Errorf(llm.KindInvalidRequest, "marshaling request: %v", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if req.Stream {
		header.Set("Accept", "text/event-stream")
	}

	return &llm.WireRequest{
		URL:    strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions",
		Header: header,
		Body:   raw,
	}, nil
}

func (c *Client) Execute(ctx context.Context, wire *llm.WireRequest) (*llm.WireResponse, error) {
	return llm.ExecuteWire(ctx, c.httpClient, c.name, wire)
}

func (c *Client) ExecuteStreaming(ctx context.Context, wire *llm.WireRequest) (io.ReadCloser, error) {
	return llm.ExecuteWireStreaming(ctx, c.httpClient, c.name, wire)
}

// Normalize converts an OpenAI wire response to the normalized shape.
func (c *Client) Normalize(wire *llm.WireResponse) (*llm.CompletionResponse, error) {
	var resp chatResponse
	if err := json.Unmarshal(wire.Body, &resp); err != nil {
		return nil, llm.Errorf(llm.KindInvalidResponse, "parsing response: %v", err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.Errorf(llm.KindInvalidResponse, "no choices in response")
	}

	choices := make([]llm.Choice, len(resp.Choices))
	for i, ch := range resp.Choices {
		msg := llm.Message{
			Role:    llm.Role(ch.Message.Role),
			Content: ch.Message.Content,
		}
		for _, tc := range ch.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		choices[i] = llm.Choice{
			Index:        ch.Index,
			Message:      msg,
			FinishReason: mapFinishReason(ch.FinishReason),
		}
	}

	out := &llm.CompletionResponse{
		ID:      resp.ID,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: choices,
	}
	if resp.Usage != nil {
		out.Usage = normalizeUsage(resp.Usage)
	}
	return out, nil
}

// NormalizeChunk converts one SSE data payload into stream chunks. The
// "[DONE]" sentinel terminates the stream.
func (c *Client) NormalizeChunk(unit []byte) ([]llm.StreamChunk, bool, error) {
	trimmed := strings.TrimSpace(string(unit))
	if trimmed == "[DONE]" {
		return nil, true, nil
	}

	var chunk chatChunk
	if err := json.Unmarshal(unit, &chunk); err != nil {
		return nil, false, llm.Errorf(llm.KindInvalidResponse, "parsing chunk: %v", err)
	}

	var out []llm.StreamChunk
	if chunk.Usage != nil {
		out = append(out, llm.StreamChunk{
			ChoiceIndex: -1,
			Usage:       normalizeUsage(chunk.Usage),
		})
	}
	for _, ch := range chunk.Choices {
		sc := llm.StreamChunk{
			ChoiceIndex:  ch.Index,
			DeltaContent: ch.Delta.Content,
		}
		for _, tc := range ch.Delta.ToolCalls {
			sc.DeltaToolCalls = append(sc.DeltaToolCalls, llm.PartialToolCall{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if ch.FinishReason != "" {
			fr := mapFinishReason(ch.FinishReason)
			sc.FinishReason = &fr
		}
		if sc.DeltaContent == "" && len(sc.DeltaToolCalls) == 0 && sc.FinishReason == nil {
			continue
		}
		out = append(out, sc)
	}
	return out, false, nil
}

func normalizeUsage(u *wireUsage) *llm.Usage {
	out := &llm.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}

func mapFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "length":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishToolCalls
	case "content_filter":
		return llm.FinishContentFilter
	default:
		return llm.FinishStop
	}
}
