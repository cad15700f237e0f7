package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Dispatcher is the single entry point for completions. It validates a
// request against the adapter's capabilities, picks the blocking or
// streaming path, and guarantees every failure surfaces as an *ErrorRecord.
// It never retries implicitly; retry is a policy wrapper's job.
type Dispatcher struct {
	registry    *Registry
	chunkBuffer int
	inflight    *semaphore.Weighted
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithChunkBuffer sets the streaming channel capacity.
func WithChunkBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.chunkBuffer = n
		}
	}
}

// WithMaxInFlight caps concurrent calls through the dispatcher. When the
// cap is reached further calls fail fast with ResourceExhausted.
func WithMaxInFlight(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.inflight = semaphore.NewWeighted(n)
		}
	}
}

// NewDispatcher creates a Dispatcher over a read-only adapter registry.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:    registry,
		chunkBuffer: DefaultChunkBuffer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Complete performs a blocking completion call and returns exactly one
// normalized response or one *ErrorRecord. Requests with Stream=true are
// rejected; they belong on Stream.
func (d *Dispatcher) Complete(ctx context.Context, provider string, req *CompletionRequest) (*CompletionResponse, error) {
	if req.Stream {
		return nil, Errorf(KindInvalidRequest, "streaming request passed to blocking Complete")
	}

	release, err := d.acquire(provider)
	if err != nil {
		return nil, err
	}
	defer release()

	adapter, err := d.resolve(provider, req)
	if err != nil {
		return nil, err
	}

	wire, err := adapter.Transform(req)
	if err != nil {
		return nil, reclassify(provider, err)
	}

	start := time.Now()
	resp, err := adapter.Execute(ctx, wire)
	if err != nil {
		return nil, reclassify(provider, err)
	}

	out, err := adapter.Normalize(resp)
	if err != nil {
		return nil, reclassify(provider, err)
	}
	if out.ID == "" {
		out.ID = "cmpl-" + uuid.NewString()
	}

	slog.Debug("completion finished",
		"provider", provider,
		"model", req.Model,
		"id", out.ID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Stream performs a streaming completion call and returns a bounded channel
// of chunks that the caller drains until closed. Setup failures (lookup,
// validation, transform, or a pre-stream transport error) are returned
// synchronously — no chunk was ever delivered, so such a call may be
// retried. Once the channel exists, failures arrive as the single terminal
// error chunk.
func (d *Dispatcher) Stream(ctx context.Context, provider string, req *CompletionRequest) (<-chan StreamChunk, error) {
	release, err := d.acquire(provider)
	if err != nil {
		return nil, err
	}

	adapter, err := d.resolve(provider, req)
	if err != nil {
		release()
		return nil, err
	}
	if !adapter.Capabilities().Streaming {
		release()
		return nil, &ErrorRecord{
			Kind:     KindUnsupportedFeature,
			Message:  "provider does not support streaming",
			Provider: provider,
		}
	}

	streamReq := *req
	streamReq.Stream = true

	wire, err := adapter.Transform(&streamReq)
	if err != nil {
		release()
		return nil, reclassify(provider, err)
	}

	body, err := adapter.ExecuteStreaming(ctx, wire)
	if err != nil {
		release()
		return nil, reclassify(provider, err)
	}

	ch := make(chan StreamChunk, d.chunkBuffer)
	go func() {
		defer release()
		pump(ctx, adapter, body, ch)
	}()
	return ch, nil
}

// resolve looks up the adapter and validates the request against its
// capabilities.
func (d *Dispatcher) resolve(provider string, req *CompletionRequest) (Adapter, error) {
	adapter, err := d.registry.Lookup(provider)
	if err != nil {
		return nil, err
	}
	if len(req.Tools) > 0 && !adapter.Capabilities().ToolCalling {
		return nil, &ErrorRecord{
			Kind:     KindUnsupportedFeature,
			Message:  "provider does not support tool calling",
			Provider: provider,
		}
	}
	return adapter, nil
}

// acquire claims an in-flight slot, failing fast when the dispatcher is
// saturated. The returned release is a no-op when no cap is configured.
func (d *Dispatcher) acquire(provider string) (func(), error) {
	if d.inflight == nil {
		return func() {}, nil
	}
	if !d.inflight.TryAcquire(1) {
		return nil, &ErrorRecord{
			Kind:      KindResourceExhausted,
			Message:   "too many in-flight completions",
			Provider:  provider,
			Retryable: true,
		}
	}
	return func() { d.inflight.Release(1) }, nil
}

// reclassify guarantees no untyped error escapes the dispatcher boundary.
// Adapters should already return *ErrorRecord; anything else is a
// transport-native error mapped here.
func reclassify(provider string, err error) *ErrorRecord {
	if rec, ok := AsErrorRecord(err); ok {
		if rec.Provider == "" {
			rec.Provider = provider
		}
		return rec
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ErrorRecord{
			Kind:      KindTimeout,
			Message:   "request deadline exceeded",
			Provider:  provider,
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, context.Canceled):
		// Caller walked away; repeating the call would be wrong.
		return &ErrorRecord{
			Kind:     KindConnectionError,
			Message:  "request canceled",
			Provider: provider,
			Cause:    err,
		}
	default:
		return &ErrorRecord{
			Kind:      KindConnectionError,
			Message:   err.Error(),
			Provider:  provider,
			Retryable: true,
			Cause:     err,
		}
	}
}
