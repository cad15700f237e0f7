package llm

import "encoding/json"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a chat message in a conversation. Order within a
// conversation is significant (turn order).
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall represents a tool invocation requested by the model. Arguments
// are an opaque JSON document; the core never parses them.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec describes a tool that can be offered to the model, including its
// JSON-schema parameters.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolChoice constrains how the model may use the offered tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// CompletionRequest is the normalized request shape sent to any backend.
// It is immutable once built; one request maps to one backend call (or one
// per retry attempt).
type CompletionRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Temperature *float64   `json:"temperature,omitempty"`
	TopP        *float64   `json:"top_p,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Stop        []string   `json:"stop,omitempty"`
	Stream      bool       `json:"stream"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	ToolChoice  ToolChoice `json:"tool_choice,omitempty"`
}

// FinishReason explains why a choice stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// Usage tracks token consumption for a request/response pair. Absent usage
// means the backend did not report counts; values are never fabricated.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is a single completion candidate.
type Choice struct {
	Index        int          `json:"index"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
}

// CompletionResponse is the normalized response shape produced by any
// backend. Usage is nil when the backend reported no token counts.
type CompletionResponse struct {
	ID      string   `json:"id"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// PartialToolCall is an incremental fragment of a tool call delivered
// mid-stream. Fragments accumulate by Index across chunks.
type PartialToolCall struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamChunk is one incremental unit of a streaming response.
// Concatenating DeltaContent in emission order reconstitutes the final
// message content; the last content chunk for a choice carries FinishReason.
// A chunk with Err set is the terminal chunk: nothing follows it and the
// channel closes after delivery.
type StreamChunk struct {
	ChoiceIndex    int               `json:"choice_index"`
	DeltaContent   string            `json:"delta_content,omitempty"`
	DeltaToolCalls []PartialToolCall `json:"delta_tool_calls,omitempty"`
	FinishReason   *FinishReason     `json:"finish_reason,omitempty"`
	Usage          *Usage            `json:"usage,omitempty"`
	Err            *ErrorRecord      `json:"error,omitempty"`
}
