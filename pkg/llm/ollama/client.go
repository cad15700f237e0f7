// Package ollama implements the llm.Adapter contract for a local Ollama
// server's native chat API, which streams bare JSON-per-line frames.
package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/modelgate/pkg/llm"
)

// DefaultBaseURL is where a local Ollama server listens.
const DefaultBaseURL = "http://localhost:11434"

// Client implements llm.Adapter for Ollama's native /api/chat endpoint.
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

// New creates an Ollama adapter. An empty BaseURL falls back to the local
// default; no API key is used.
func New(config *llm.Config, opts ...ClientOption) *Client {
	cfg := *config
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	c := &Client{
		name:   "ollama",
		config: &cfg,
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
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

func (c *Client) Framing() llm.Framing { return llm.FramingJSONLines }

// chatRequest is the native Ollama chat request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
	Options  *wireOptions  `json:"options,omitempty"`
}

type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
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

type wireOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// chatFrame is one response object; the blocking path gets a single frame
// and the streaming path one per line.
type chatFrame struct {
	Model           string       `json:"model"`
	CreatedAt       time.Time    `json:"created_at"`
	Message         *wireMessage `json:"message"`
	Done            bool         `json:"done"`
	DoneReason      string       `json:"done_reason"`
	PromptEvalCount int          `json:"prompt_eval_count"`
	EvalCount       int          `json:"eval_count"`
}

// Transform renders a normalized request into Ollama's native format.
func (c *Client) Transform(req *llm.CompletionRequest) (*llm.WireRequest, error) {
	messages := make([]wireMessage, len(req.Messages))
	for i, msg := range req.Messages {
		wm := wireMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for _, tc := range msg.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				Function: wireFunctionCall{
					Name:      tc.Name,
					Arguments: json.RawMessage(tc.Arguments),
				},
			})
		}
		messages[i] = wm
	}

	body := chatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   req.Stream,
	}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens > 0 || len(req.Stop) > 0 {
		body.Options = &wireOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
			Stop:        req.Stop,
		}
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

	return &llm.WireRequest{
		URL:    strings.TrimRight(c.config.BaseURL, "/") + "/api/chat",
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

// Normalize converts a blocking Ollama response to the normalized shape.
func (c *Client) Normalize(wire *llm.WireResponse) (*llm.CompletionResponse, error) {
	var frame chatFrame
	if err := json.Unmarshal(wire.Body, &frame); err != nil {
		return nil, llm.Errorf(llm.KindInvalidResponse, "parsing response: %v", err)
	}
	if frame.Message == nil {
		return nil, llm.Errorf(llm.KindInvalidResponse, "no message in response")
	}

	msg := llm.Message{
		Role:    llm.Role(frame.Message.Role),
		Content: frame.Message.Content,
	}
	for _, tc := range frame.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			Name:      tc.Function.Name,
			Arguments: string(tc.Function.Arguments),
		})
	}

	out := &llm.CompletionResponse{
		Model:   frame.Model,
		Created: frame.CreatedAt.Unix(),
		Choices: []llm.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: mapDoneReason(frame.DoneReason, len(msg.ToolCalls) > 0),
		}},
	}
	if frame.PromptEvalCount > 0 || frame.EvalCount > 0 {
		out.Usage = &llm.Usage{
			PromptTokens:     frame.PromptEvalCount,
			CompletionTokens: frame.EvalCount,
			TotalTokens:      frame.PromptEvalCount + frame.EvalCount,
		}
	}
	return out, nil
}

// NormalizeChunk converts one JSON line into stream chunks. There is no
// sentinel beyond the frame's done flag; the final frame carries the eval
// counts.
func (c *Client) NormalizeChunk(unit []byte) ([]llm.StreamChunk, bool, error) {
	var frame chatFrame
	if err := json.Unmarshal(unit, &frame); err != nil {
		return nil, false, llm.Errorf(llm.KindInvalidResponse, "parsing frame: %v", err)
	}

	chunk := llm.StreamChunk{ChoiceIndex: 0}
	hasToolCalls := false
	if frame.Message != nil {
		chunk.DeltaContent = frame.Message.Content
		for i, tc := range frame.Message.ToolCalls {
			chunk.DeltaToolCalls = append(chunk.DeltaToolCalls, llm.PartialToolCall{
				Index:     i,
				Name:      tc.Function.Name,
				Arguments: string(tc.Function.Arguments),
			})
			hasToolCalls = true
		}
	}
	if frame.Done {
		fr := mapDoneReason(frame.DoneReason, hasToolCalls)
		chunk.FinishReason = &fr
		if frame.PromptEvalCount > 0 || frame.EvalCount > 0 {
			chunk.Usage = &llm.Usage{
				PromptTokens:     frame.PromptEvalCount,
				CompletionTokens: frame.EvalCount,
				TotalTokens:      frame.PromptEvalCount + frame.EvalCount,
			}
		}
		return []llm.StreamChunk{chunk}, true, nil
	}
	if chunk.DeltaContent == "" && len(chunk.DeltaToolCalls) == 0 {
		return nil, false, nil
	}
	return []llm.StreamChunk{chunk}, false, nil
}

func mapDoneReason(reason string, hasToolCalls bool) llm.FinishReason {
	switch reason {
	case "length":
		return llm.FinishLength
	default:
		if hasToolCalls {
			return llm.FinishToolCalls
		}
		return llm.FinishStop
	}
}
