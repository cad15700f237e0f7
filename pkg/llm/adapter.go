package llm

import (
	"context"
	"io"
	"net/http"
)

// Capabilities reports which operations a backend supports. The dispatcher
// validates every request against these before touching the network.
type Capabilities struct {
	Streaming   bool `json:"streaming"`
	ToolCalling bool `json:"tool_calling"`
	Embeddings  bool `json:"embeddings"`
}

// Framing identifies how a backend frames its incremental byte stream.
type Framing int

const (
	// FramingSSE is line-prefixed event frames ("data: ..."), usually
	// terminated by a sentinel value.
	FramingSSE Framing = iota
	// FramingJSONLines is bare JSON-per-line frames with no sentinel;
	// end-of-stream is end-of-connection.
	FramingJSONLines
)

// WireRequest is a backend call ready to execute: the adapter's Transform
// has already rendered the normalized request into the backend's body and
// headers.
type WireRequest struct {
	URL    string
	Header http.Header
	Body   []byte
}

// WireResponse is the raw outcome of a backend call before normalization.
type WireResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Adapter converts normalized requests to one backend's wire format,
// performs the call, and converts the result back. Implementations must
// surface non-2xx responses as *ErrorRecord via ClassifyStatus, never as a
// raw transport error.
type Adapter interface {
	// Name returns the provider name the adapter is registered under.
	Name() string

	// Capabilities reports what the backend supports.
	Capabilities() Capabilities

	// Framing reports how the backend frames its streaming bytes.
	Framing() Framing

	// Transform renders a normalized request into backend wire format.
	// Pure; fails with an InvalidRequest record on unsupported fields.
	Transform(req *CompletionRequest) (*WireRequest, error)

	// Execute performs a blocking backend call.
	Execute(ctx context.Context, wire *WireRequest) (*WireResponse, error)

	// ExecuteStreaming opens the backend's raw byte stream. A non-2xx
	// status before streaming begins is returned as an *ErrorRecord.
	ExecuteStreaming(ctx context.Context, wire *WireRequest) (io.ReadCloser, error)

	// Normalize converts a backend wire response to normalized form.
	Normalize(wire *WireResponse) (*CompletionResponse, error)

	// NormalizeChunk converts one decoded stream unit into zero or more
	// chunks. done reports the backend's termination sentinel.
	NormalizeChunk(unit []byte) (chunks []StreamChunk, done bool, err error)
}
