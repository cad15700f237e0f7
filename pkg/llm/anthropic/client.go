// Package anthropic implements the llm.Adapter contract for the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/modelgate/pkg/llm"
)

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Client implements llm.Adapter for the Anthropic Messages API.
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

// New creates an Anthropic adapter with the given configuration.
func New(config *llm.Config, opts ...ClientOption) *Client {
	c := &Client{
		name:   "anthropic",
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

// messagePayload is the Messages API request body.
type messagePayload struct {
	Model         string        `json:"model"`
	Messages      []wireMessage `json:"messages"`
	System        string        `json:"system,omitempty"`
	MaxTokens     int           `json:"max_tokens"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Tools         []wireTool    `json:"tools,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`

	// type "text"
	Text string `json:"text,omitempty"`

	// type "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// messageResponse is the Messages API response body.
type messageResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      *wireUsage     `json:"usage"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// streamEvent is one SSE data payload. The type field discriminates.
type streamEvent struct {
	Type string `json:"type"`

	Index        int           `json:"index"`
	Message      *eventMessage `json:"message"`
	ContentBlock *contentBlock `json:"content_block"`
	Delta        *eventDelta   `json:"delta"`
	Usage        *wireUsage    `json:"usage"`
	Error        *eventError   `json:"error"`
}

type eventMessage struct {
	Usage *wireUsage `json:"usage"`
}

type eventDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	StopReason  string `json:"stop_reason"`
}

type eventError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Transform renders a normalized request into the Messages API format.
// System messages are lifted into the top-level system field; tool-result
// messages become user-role tool_result blocks.
func (c *Client) Transform(req *llm.CompletionRequest) (*llm.WireRequest, error) {
	var system []string
	var messages []wireMessage
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleTool:
			messages = append(messages, wireMessage{
				Role: "user",
				Content: []contentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		case llm.RoleAssistant:
			blocks := []contentBlock{}
			if msg.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: json.RawMessage(tc.Arguments),
				})
			}
			messages = append(messages, wireMessage{Role: "assistant", Content: blocks})
		case llm.RoleUser:
			messages = append(messages, wireMessage{
				Role:    "user",
				Content: []contentBlock{{Type: "text", Text: msg.Content}},
			})
		default:
			return nil, llm.Errorf(llm.KindInvalidRequest, "unsupported role %q", msg.Role)
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		// The Messages API requires max_tokens.
		maxTokens = defaultMaxTokens
	}

	body := messagePayload{
		Model:         req.Model,
		Messages:      messages,
		System:        strings.Join(system, "\n\n"),
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.Errorf(llm.KindInvalidRequest, "marshaling request: %v", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("x-api-key", c.config.APIKey)
	header.Set("anthropic-version", apiVersion)
	if req.Stream {
		header.Set("Accept", "text/event-stream")
	}

	return &llm.WireRequest{
		URL:    strings.TrimRight(c.config.BaseURL, "/") + "/v1/messages",
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

// Normalize converts a Messages API response to the normalized shape.
func (c *Client) Normalize(wire *llm.WireResponse) (*llm.CompletionResponse, error) {
	var resp messageResponse
	if err := json.Unmarshal(wire.Body, &resp); err != nil {
		return nil, llm.Errorf(llm.KindInvalidResponse, "parsing response: %v", err)
	}

	msg := llm.Message{Role: llm.RoleAssistant}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	msg.Content = text.String()

	out := &llm.CompletionResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []llm.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: mapStopReason(resp.StopReason),
		}},
	}
	if resp.Usage != nil {
		out.Usage = &llm.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out, nil
}

// NormalizeChunk converts one SSE event payload into stream chunks. The
// message_stop event terminates the stream; in-band error events become the
// terminal error chunk.
func (c *Client) NormalizeChunk(unit []byte) ([]llm.StreamChunk, bool, error) {
	var ev streamEvent
	if err := json.Unmarshal(unit, &ev); err != nil {
		return nil, false, llm.Errorf(llm.KindInvalidResponse, "parsing event: %v", err)
	}

	switch ev.Type {
	case "message_stop":
		return nil, true, nil

	case "message_start":
		// Prompt tokens arrive here; output tokens come later on
		// message_delta.
		if ev.Message != nil && ev.Message.Usage != nil && ev.Message.Usage.InputTokens > 0 {
			return []llm.StreamChunk{{
				ChoiceIndex: -1,
				Usage: &llm.Usage{
					PromptTokens: ev.Message.Usage.InputTokens,
					TotalTokens:  ev.Message.Usage.InputTokens,
				},
			}}, false, nil
		}
		return nil, false, nil

	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			return []llm.StreamChunk{{
				ChoiceIndex: 0,
				DeltaToolCalls: []llm.PartialToolCall{{
					Index: ev.Index,
					ID:    ev.ContentBlock.ID,
					Name:  ev.ContentBlock.Name,
				}},
			}}, false, nil
		}
		return nil, false, nil

	case "content_block_delta":
		if ev.Delta == nil {
			return nil, false, nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []llm.StreamChunk{{
				ChoiceIndex:  0,
				DeltaContent: ev.Delta.Text,
			}}, false, nil
		case "input_json_delta":
			return []llm.StreamChunk{{
				ChoiceIndex: 0,
				DeltaToolCalls: []llm.PartialToolCall{{
					Index:     ev.Index,
					Arguments: ev.Delta.PartialJSON,
				}},
			}}, false, nil
		}
		return nil, false, nil

	case "message_delta":
		chunk := llm.StreamChunk{ChoiceIndex: 0}
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			fr := mapStopReason(ev.Delta.StopReason)
			chunk.FinishReason = &fr
		}
		if ev.Usage != nil {
			chunk.Usage = &llm.Usage{
				CompletionTokens: ev.Usage.OutputTokens,
				TotalTokens:      ev.Usage.OutputTokens,
			}
		}
		if chunk.FinishReason == nil && chunk.Usage == nil {
			return nil, false, nil
		}
		return []llm.StreamChunk{chunk}, false, nil

	case "error":
		msg := "stream error"
		code := ""
		if ev.Error != nil {
			msg = ev.Error.Message
			code = ev.Error.Type
		}
		return []llm.StreamChunk{{
			ChoiceIndex: -1,
			Err: &llm.ErrorRecord{
				Kind:         llm.KindStreamingError,
				Message:      msg,
				Provider:     c.name,
				ProviderCode: code,
			},
		}}, true, nil

	default:
		// ping, content_block_stop, and unknown event types carry
		// nothing the normalized stream needs.
		return nil, false, nil
	}
}

func mapStopReason(reason string) llm.FinishReason {
	switch reason {
	case "max_tokens":
		return llm.FinishLength
	case "tool_use":
		return llm.FinishToolCalls
	case "refusal":
		return llm.FinishContentFilter
	default:
		return llm.FinishStop
	}
}
