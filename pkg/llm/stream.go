package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// DefaultChunkBuffer bounds the streaming channel. A slow consumer causes
// the producer to block on push rather than drop data; the buffer is the
// sole backpressure mechanism.
const DefaultChunkBuffer = 64

// pump reads the backend byte stream unit-by-unit and feeds the bounded
// chunk channel. It runs on its own goroutine, one per in-flight stream.
//
// Guarantees: the channel always closes (deferred), chunks are delivered in
// emission order, at most one terminal error chunk is sent and nothing
// follows it, and every push observes ctx so an abandoned consumer cancels
// the producer promptly.
func pump(ctx context.Context, a Adapter, body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	dec := newUnitDecoder(a.Framing(), body)
	delivered := false

	for {
		unit, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			rec := streamReadError(ctx, a.Name(), err, delivered)
			pushChunk(ctx, out, StreamChunk{ChoiceIndex: -1, Err: rec})
			return
		}

		chunks, done, err := a.NormalizeChunk(unit)
		if err != nil {
			// One malformed unit must not void an otherwise-good
			// stream: log and skip it.
			slog.Warn("skipping malformed stream unit",
				"provider", a.Name(), "error", err)
			continue
		}
		for _, chunk := range chunks {
			if !pushChunk(ctx, out, chunk) {
				return
			}
			if chunk.DeltaContent != "" || len(chunk.DeltaToolCalls) > 0 {
				delivered = true
			}
		}
		if done {
			return
		}
	}
}

// pushChunk delivers one chunk, aborting if the consumer's context ends
// first. Returns false when the push was abandoned.
func pushChunk(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// streamReadError classifies a mid-stream transport failure. A partial
// stream must not be silently retried (that would duplicate tokens already
// delivered), so retryability flips off once any content has flowed.
func streamReadError(ctx context.Context, provider string, err error, delivered bool) *ErrorRecord {
	kind := KindStreamingError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &ErrorRecord{
		Kind:      kind,
		Message:   "stream interrupted: " + err.Error(),
		Provider:  provider,
		Retryable: !delivered,
		Cause:     err,
	}
}
