package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/modelgate/pkg/llm"
)

func floatPtr(f float64) *float64 { return &f }

func TestTransform(t *testing.T) {
	c := New(&llm.Config{})

	req := &llm.CompletionRequest{
		Model: "llama3.2",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "hi"},
		},
		Temperature: floatPtr(0.7),
		MaxTokens:   128,
	}
	wire, err := c.Transform(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wire.URL != DefaultBaseURL+"/api/chat" {
		t.Errorf("unexpected URL: %s", wire.URL)
	}
	if wire.Header.Get("Authorization") != "" {
		t.Error("ollama must not send auth headers")
	}

	var body chatRequest
	if err := json.Unmarshal(wire.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Model != "llama3.2" || body.Stream {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.Options == nil || *body.Options.Temperature != 0.7 || body.Options.NumPredict != 128 {
		t.Errorf("options not mapped: %+v", body.Options)
	}
}

func TestTransformNoOptionsWhenUnset(t *testing.T) {
	c := New(&llm.Config{})

	wire, err := c.Transform(&llm.CompletionRequest{
		Model:    "llama3.2",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	var body chatRequest
	if err := json.Unmarshal(wire.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Options != nil {
		t.Errorf("expected no options block, got %+v", body.Options)
	}
}

func TestNormalize(t *testing.T) {
	c := New(&llm.Config{})

	body := []byte(`{
		"model": "llama3.2",
		"created_at": "2026-01-15T10:00:00Z",
		"message": {"role": "assistant", "content": "hello"},
		"done": true,
		"done_reason": "stop",
		"prompt_eval_count": 8,
		"eval_count": 4
	}`)
	resp, err := c.Normalize(&llm.WireResponse{StatusCode: 200, Body: body})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "llama3.2" || resp.Choices[0].Message.Content != "hello" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 12 {
		t.Errorf("eval counts not mapped to usage: %+v", resp.Usage)
	}
}

func TestNormalizeMissingMessage(t *testing.T) {
	c := New(&llm.Config{})

	_, err := c.Normalize(&llm.WireResponse{StatusCode: 200, Body: []byte(`{"model":"llama3.2","done":true}`)})
	rec, ok := llm.AsErrorRecord(err)
	if !ok || rec.Kind != llm.KindInvalidResponse {
		t.Errorf("expected invalid_response, got %v", err)
	}
}

func TestNormalizeChunk(t *testing.T) {
	c := New(&llm.Config{})

	chunks, done, err := c.NormalizeChunk([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"hel"},"done":false}`))
	if err != nil || done {
		t.Fatalf("unexpected err=%v done=%v", err, done)
	}
	if len(chunks) != 1 || chunks[0].DeltaContent != "hel" {
		t.Errorf("unexpected chunks: %+v", chunks)
	}

	// Final frame carries finish reason and usage; done flag is the
	// sentinel.
	chunks, done, err = c.NormalizeChunk([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":8,"eval_count":4}`))
	if err != nil || !done {
		t.Fatalf("unexpected err=%v done=%v", err, done)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected final chunk, got %d", len(chunks))
	}
	final := chunks[0]
	if final.FinishReason == nil || *final.FinishReason != llm.FinishStop {
		t.Errorf("finish reason missing: %+v", final)
	}
	if final.Usage == nil || final.Usage.TotalTokens != 12 {
		t.Errorf("usage missing: %+v", final.Usage)
	}

	// Empty keepalive frames produce nothing.
	chunks, done, err = c.NormalizeChunk([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":""},"done":false}`))
	if err != nil || done || len(chunks) != 0 {
		t.Errorf("empty frame: chunks=%+v done=%v err=%v", chunks, done, err)
	}

	if _, _, err := c.NormalizeChunk([]byte("not json")); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestNormalizeChunkToolCalls(t *testing.T) {
	c := New(&llm.Config{})

	chunks, done, err := c.NormalizeChunk([]byte(`{
		"model": "llama3.2",
		"message": {
			"role": "assistant",
			"content": "",
			"tool_calls": [{"function":{"name":"get_weather","arguments":{"city":"Oslo"}}}]
		},
		"done": true,
		"done_reason": "stop"
	}`))
	if err != nil || !done {
		t.Fatalf("unexpected err=%v done=%v", err, done)
	}
	if len(chunks) != 1 || len(chunks[0].DeltaToolCalls) != 1 {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	if chunks[0].DeltaToolCalls[0].Name != "get_weather" {
		t.Errorf("tool name not carried: %+v", chunks[0].DeltaToolCalls[0])
	}
	if chunks[0].FinishReason == nil || *chunks[0].FinishReason != llm.FinishToolCalls {
		t.Errorf("tool calls must map to tool_calls finish: %+v", chunks[0].FinishReason)
	}
}

func TestExecuteModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"nope\" not found"}`))
	}))
	defer srv.Close()

	c := New(&llm.Config{BaseURL: srv.URL})
	wire, err := c.Transform(&llm.CompletionRequest{
		Model:    "nope",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Execute(context.Background(), wire)
	rec, ok := llm.AsErrorRecord(err)
	if !ok {
		t.Fatalf("expected ErrorRecord, got %v", err)
	}
	if rec.Kind != llm.KindModelNotFound || rec.Retryable {
		t.Errorf("expected non-retryable model_not_found, got %+v", rec)
	}
}
