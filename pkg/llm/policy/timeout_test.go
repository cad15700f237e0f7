package policy

import (
	"context"
	"testing"
	"time"

	"github.com/user/modelgate/pkg/llm"
)

func TestTimeoutExpires(t *testing.T) {
	blocked := func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	fn := Timeout(20 * time.Millisecond)(blocked)

	start := time.Now()
	_, err := fn(context.Background(), "p", &llm.CompletionRequest{Model: "m"})
	elapsed := time.Since(start)

	rec, ok := llm.AsErrorRecord(err)
	if !ok || rec.Kind != llm.KindTimeout {
		t.Fatalf("expected timeout record, got %v", err)
	}
	if !rec.Retryable {
		t.Error("timeout must be retryable")
	}
	if elapsed > time.Second {
		t.Errorf("timeout fired too late: %v", elapsed)
	}
}

func TestTimeoutFastCallUnaffected(t *testing.T) {
	fn := Timeout(time.Second)(func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return okResponse(), nil
	})

	resp, err := fn(context.Background(), "p", &llm.CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil {
		t.Fatal("expected response")
	}
}

func TestTimeoutPreservesCallerCancellation(t *testing.T) {
	blocked := func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	fn := Timeout(time.Hour)(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := fn(ctx, "p", &llm.CompletionRequest{Model: "m"})
	// Caller cancellation is not a timeout; the raw error passes through.
	if _, ok := llm.AsErrorRecord(err); ok {
		t.Errorf("cancellation must not be rewritten to a timeout record: %v", err)
	}
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStreamTimeoutBoundsSetupOnly(t *testing.T) {
	slow := func(ctx context.Context, provider string, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		select {
		case <-time.After(time.Hour):
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}
	fn := StreamTimeout(20 * time.Millisecond)(slow)

	_, err := fn(context.Background(), "p", &llm.CompletionRequest{Model: "m"})
	rec, ok := llm.AsErrorRecord(err)
	if !ok || rec.Kind != llm.KindTimeout {
		t.Fatalf("expected timeout record, got %v", err)
	}
}

func TestStreamTimeoutReleasesContextOnStreamEnd(t *testing.T) {
	var setupCtx context.Context
	quick := func(ctx context.Context, provider string, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		setupCtx = ctx
		ch := make(chan llm.StreamChunk, 1)
		ch <- llm.StreamChunk{DeltaContent: "x"}
		close(ch)
		return ch, nil
	}
	fn := StreamTimeout(time.Second)(quick)

	out, err := fn(context.Background(), "p", &llm.CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range out {
	}

	// Once the stream is drained the derived context must be cancelled
	// even though the background parent never is.
	select {
	case <-setupCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("derived context not released after stream end")
	}
}

func TestStreamTimeoutDoesNotKillLongStream(t *testing.T) {
	ch := make(chan llm.StreamChunk)
	quick := func(ctx context.Context, provider string, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		go func() {
			defer close(ch)
			// Keep streaming well past the setup deadline.
			for i := 0; i < 5; i++ {
				select {
				case ch <- llm.StreamChunk{DeltaContent: "x"}:
				case <-ctx.Done():
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
		}()
		return ch, nil
	}
	fn := StreamTimeout(15 * time.Millisecond)(quick)

	out, err := fn(context.Background(), "p", &llm.CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n := 0
	for range out {
		n++
	}
	if n != 5 {
		t.Errorf("expected all 5 chunks despite setup deadline passing, got %d", n)
	}
}
