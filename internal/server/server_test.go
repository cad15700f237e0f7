package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/modelgate/internal/costtrack"
	"github.com/user/modelgate/pkg/llm"
	"github.com/user/modelgate/pkg/llm/policy"
)

func testServer(t *testing.T, complete policy.CompleteFunc, stream policy.StreamFunc) *Server {
	t.Helper()
	registry := llm.NewRegistry()
	tracker := costtrack.New(nil)
	s, err := New(8090, "openai", complete, stream, registry, tracker)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func stubComplete(resp *llm.CompletionResponse, err error) policy.CompleteFunc {
	return func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return resp, err
	}
}

func stubStream(chunks []llm.StreamChunk, err error) policy.StreamFunc {
	return func(ctx context.Context, provider string, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		if err != nil {
			return nil, err
		}
		ch := make(chan llm.StreamChunk, len(chunks))
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
		return ch, nil
	}
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.app.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletions(t *testing.T) {
	resp := &llm.CompletionResponse{
		ID:    "cmpl-1",
		Model: "gpt-4o-mini",
		Choices: []llm.Choice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: "pong"},
			FinishReason: llm.FinishStop,
		}},
		Usage: &llm.Usage{PromptTokens: 2, CompletionTokens: 1, TotalTokens: 3},
	}
	var gotProvider string
	s := testServer(t, func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		gotProvider = provider
		return resp, nil
	}, stubStream(nil, nil))

	rec := postJSON(t, s, "/v1/chat/completions", `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"ping"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body)
	}
	if gotProvider != "openai" {
		t.Errorf("default provider not applied: %q", gotProvider)
	}

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["object"] != "chat.completion" || out["id"] != "cmpl-1" {
		t.Errorf("unexpected envelope: %v", out)
	}
	choices := out["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	if msg["content"] != "pong" {
		t.Errorf("unexpected content: %v", msg)
	}
	usage := out["usage"].(map[string]any)
	if usage["total_tokens"].(float64) != 3 {
		t.Errorf("unexpected usage: %v", usage)
	}
}

func TestChatCompletionsExplicitProvider(t *testing.T) {
	var gotProvider string
	s := testServer(t, func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		gotProvider = provider
		return &llm.CompletionResponse{Model: "m", Choices: []llm.Choice{{}}}, nil
	}, stubStream(nil, nil))

	postJSON(t, s, "/v1/chat/completions", `{"provider":"local","model":"llama3.2","messages":[{"role":"user","content":"hi"}]}`)
	if gotProvider != "local" {
		t.Errorf("provider routing failed: %q", gotProvider)
	}
}

func TestChatCompletionsErrorEnvelope(t *testing.T) {
	s := testServer(t, stubComplete(nil, &llm.ErrorRecord{
		Kind:    llm.KindRateLimited,
		Message: "slow down",
	}), stubStream(nil, nil))

	rec := postJSON(t, s, "/v1/chat/completions", `{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("unexpected status: %d", rec.Code)
	}

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	errObj := out["error"].(map[string]any)
	if errObj["type"] != "rate_limited" || errObj["message"] != "slow down" {
		t.Errorf("unexpected error envelope: %v", errObj)
	}
}

func TestChatCompletionsFallbackErrorUnwrapped(t *testing.T) {
	fbErr := func() error {
		fb := policy.Fallback([]policy.Target{{Provider: "a"}})(func(ctx context.Context, provider string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &llm.ErrorRecord{Kind: llm.KindAuthenticationError, Message: "bad key", Provider: "a"}
		})
		_, err := fb(context.Background(), "a", &llm.CompletionRequest{Model: "m"})
		return err
	}()
	s := testServer(t, stubComplete(nil, fbErr), stubStream(nil, nil))

	rec := postJSON(t, s, "/v1/chat/completions", `{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected last attempt's status, got %d: %s", rec.Code, rec.Body)
	}
}

func TestChatCompletionsStreaming(t *testing.T) {
	fr := llm.FinishStop
	chunks := []llm.StreamChunk{
		{ChoiceIndex: 0, DeltaContent: "hel"},
		{ChoiceIndex: 0, DeltaContent: "lo"},
		{ChoiceIndex: 0, FinishReason: &fr},
	}
	s := testServer(t, stubComplete(nil, nil), stubStream(chunks, nil))

	rec := postJSON(t, s, "/v1/chat/completions", `{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Errorf("unexpected content type: %q", got)
	}

	var dataLines []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(dataLines) != 4 {
		t.Fatalf("expected 3 chunks + sentinel, got %d: %v", len(dataLines), dataLines)
	}
	if dataLines[len(dataLines)-1] != "[DONE]" {
		t.Errorf("missing sentinel: %v", dataLines)
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(dataLines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if first["object"] != "chat.completion.chunk" {
		t.Errorf("unexpected chunk object: %v", first)
	}
	delta := first["choices"].([]any)[0].(map[string]any)["delta"].(map[string]any)
	if delta["content"] != "hel" {
		t.Errorf("unexpected delta: %v", delta)
	}
}

func TestChatCompletionsStreamingTerminalError(t *testing.T) {
	chunks := []llm.StreamChunk{
		{ChoiceIndex: 0, DeltaContent: "part"},
		{ChoiceIndex: -1, Err: &llm.ErrorRecord{Kind: llm.KindStreamingError, Message: "cut off"}},
	}
	s := testServer(t, stubComplete(nil, nil), stubStream(chunks, nil))

	rec := postJSON(t, s, "/v1/chat/completions", `{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("headers already flushed, status must stay 200: %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"content":"part"`) {
		t.Errorf("delivered content missing: %s", body)
	}
	if !strings.Contains(body, `"type":"streaming_error"`) {
		t.Errorf("terminal error frame missing: %s", body)
	}
}

func TestChatCompletionsStreamSetupError(t *testing.T) {
	s := testServer(t, stubComplete(nil, nil), stubStream(nil, &llm.ErrorRecord{
		Kind:    llm.KindProviderNotFound,
		Message: "no such provider",
	}))

	rec := postJSON(t, s, "/v1/chat/completions", `{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("setup failure must be a plain error response, got %d", rec.Code)
	}
}

func TestModels(t *testing.T) {
	registry := llm.NewRegistry()
	tracker := costtrack.New(nil)
	s, err := New(8090, "openai", stubComplete(nil, nil), stubStream(nil, nil), registry, tracker)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	s.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["object"] != "list" {
		t.Errorf("unexpected envelope: %v", out)
	}
}

func TestCosts(t *testing.T) {
	tracker := costtrack.New(map[string]costtrack.ModelRate{"m": {InputPer1M: 1, OutputPer1M: 1}})
	tracker.Record("m", llm.Usage{PromptTokens: 1_000_000}, 1.0)
	s, err := New(8090, "openai", stubComplete(nil, nil), stubStream(nil, nil), llm.NewRegistry(), tracker)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/costs", nil)
	rec := httptest.NewRecorder()
	s.app.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["total_cost_usd"].(float64) != 1.0 {
		t.Errorf("unexpected costs: %v", out)
	}
}
