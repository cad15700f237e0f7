package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/user/modelgate/pkg/llm"
)

func TestFallbackFirstTargetWins(t *testing.T) {
	targets := []Target{
		{Provider: "a", Model: "model-a"},
		{Provider: "b", Model: "model-b"},
	}
	var seen []string
	fn := Fallback(targets)(func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		seen = append(seen, provider)
		return okResponse(), nil
	})

	_, err := fn(context.Background(), "ignored", &llm.CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != "a" {
		t.Errorf("expected single call to first target, got %v", seen)
	}
}

func TestFallbackAdvancesOnFailure(t *testing.T) {
	targets := []Target{
		{Provider: "a", Model: "model-a"},
		{Provider: "b", Model: "model-b"},
	}
	var models []string
	fn := Fallback(targets)(func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		models = append(models, provider+"/"+req.Model)
		if provider == "a" {
			return nil, &llm.ErrorRecord{Kind: llm.KindAuthenticationError, Provider: "a"}
		}
		return okResponse(), nil
	})

	resp, err := fn(context.Background(), "ignored", &llm.CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil {
		t.Fatal("expected response")
	}
	want := []string{"a/model-a", "b/model-b"}
	if len(models) != 2 || models[0] != want[0] || models[1] != want[1] {
		t.Errorf("expected %v, got %v", want, models)
	}
}

func TestFallbackAllFail(t *testing.T) {
	targets := []Target{
		{Provider: "a"},
		{Provider: "b"},
	}
	fn := Fallback(targets)(func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		kind := llm.KindServerError
		if provider == "a" {
			kind = llm.KindRateLimited
		}
		return nil, &llm.ErrorRecord{Kind: kind, Provider: provider}
	})

	_, err := fn(context.Background(), "ignored", &llm.CompletionRequest{Model: "m"})
	fe, ok := err.(*FallbackError)
	if !ok {
		t.Fatalf("expected *FallbackError, got %T", err)
	}
	attempts := fe.Attempts()
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Err.Kind != llm.KindRateLimited || attempts[1].Err.Kind != llm.KindServerError {
		t.Errorf("unexpected attempt kinds: %+v", attempts)
	}
	if !strings.Contains(fe.Error(), "rate_limited") || !strings.Contains(fe.Error(), "server_error") {
		t.Errorf("error message should enumerate kinds: %s", fe.Error())
	}
}

func TestFallbackEmptyModelKeepsRequestModel(t *testing.T) {
	targets := []Target{{Provider: "a"}}
	fn := Fallback(targets)(func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if req.Model != "original" {
			t.Errorf("expected request model preserved, got %q", req.Model)
		}
		return okResponse(), nil
	})

	if _, err := fn(context.Background(), "ignored", &llm.CompletionRequest{Model: "original"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFallbackNoTargetsPassthrough(t *testing.T) {
	called := false
	fn := Fallback(nil)(func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		called = true
		if provider != "direct" {
			t.Errorf("expected original provider, got %q", provider)
		}
		return okResponse(), nil
	})

	if _, err := fn(context.Background(), "direct", &llm.CompletionRequest{Model: "m"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected passthrough call")
	}
}

func TestFallbackStreamSetupFailureAdvances(t *testing.T) {
	targets := []Target{
		{Provider: "a"},
		{Provider: "b"},
	}
	fn := FallbackStream(targets)(func(ctx context.Context, provider string, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		if provider == "a" {
			return nil, &llm.ErrorRecord{Kind: llm.KindServerError, Provider: "a", Retryable: true}
		}
		ch := make(chan llm.StreamChunk)
		close(ch)
		return ch, nil
	})

	ch, err := fn(context.Background(), "ignored", &llm.CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch == nil {
		t.Fatal("expected channel from second target")
	}
}
