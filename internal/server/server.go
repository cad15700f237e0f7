// Package server exposes the dispatcher as an OpenAI-compatible HTTP
// gateway: blocking and SSE completions, model listing, and accumulated
// cost reporting.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/user/modelgate/internal/costtrack"
	"github.com/user/modelgate/pkg/llm"
	"github.com/user/modelgate/pkg/llm/policy"
)

const (
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// Server is the HTTP gateway over a composed policy stack.
type Server struct {
	complete policy.CompleteFunc
	stream   policy.StreamFunc
	registry *llm.Registry
	tracker  *costtrack.Tracker

	defaultProvider string
	app             *echo.Echo
	address         string
}

// New constructs the gateway. complete and stream are the fully composed
// call chains (wrappers included); defaultProvider handles requests that
// name no provider of their own.
func New(port int, defaultProvider string, complete policy.CompleteFunc, stream policy.StreamFunc, registry *llm.Registry, tracker *costtrack.Tracker) (*Server, error) {
	if complete == nil || stream == nil {
		return nil, errors.New("complete and stream funcs must not be nil")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))

	s := &Server{
		complete:        complete,
		stream:          stream,
		registry:        registry,
		tracker:         tracker,
		defaultProvider: defaultProvider,
		app:             e,
		address:         fmt.Sprintf(":%d", port),
	}

	e.POST("/v1/chat/completions", s.handleChatCompletions)
	e.GET("/v1/models", s.handleModels)
	e.GET("/v1/costs", s.handleCosts)

	return s, nil
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("starting gateway", "addr", s.address)

	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("gateway shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// chatBody is the inbound OpenAI-style request, extended with an optional
// provider field for explicit routing.
type chatBody struct {
	Provider string `json:"provider,omitempty"`
	llm.CompletionRequest
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var body chatBody
	if err := c.Bind(&body); err != nil {
		return writeError(c, llm.Errorf(llm.KindInvalidRequest, "invalid request body: %v", err))
	}
	provider := body.Provider
	if provider == "" {
		provider = s.defaultProvider
	}

	if body.Stream {
		return s.streamCompletion(c, provider, &body.CompletionRequest)
	}

	req := body.CompletionRequest
	req.Stream = false
	resp, err := s.complete(c.Request().Context(), provider, &req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, renderResponse(resp))
}

// streamCompletion replays the chunk channel as SSE frames, closed by the
// [DONE] sentinel. A terminal error chunk renders as an error frame; output
// already flushed stays valid.
func (s *Server) streamCompletion(c echo.Context, provider string, req *llm.CompletionRequest) error {
	ch, err := s.stream(c.Request().Context(), provider, req)
	if err != nil {
		return writeError(c, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range ch {
		var frame any
		if chunk.Err != nil {
			frame = errorEnvelope(chunk.Err)
		} else {
			frame = renderChunk(req.Model, chunk)
		}
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		w.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	w.Flush()
	return nil
}

func (s *Server) handleModels(c echo.Context) error {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	var entries []modelEntry
	for _, name := range s.registry.Names() {
		entries = append(entries, modelEntry{
			ID:      name,
			Object:  "model",
			OwnedBy: "modelgate",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   entries,
	})
}

func (s *Server) handleCosts(c echo.Context) error {
	if s.tracker == nil {
		return c.JSON(http.StatusOK, map[string]any{})
	}
	return c.JSON(http.StatusOK, s.tracker.Snapshot())
}

// writeError renders any failure as an OpenAI-style error envelope with the
// status derived from the error kind.
func writeError(c echo.Context, err error) error {
	rec, ok := llm.AsErrorRecord(err)
	if !ok {
		var fb *policy.FallbackError
		if errors.As(err, &fb) && len(fb.Attempts()) > 0 {
			rec = fb.Attempts()[len(fb.Attempts())-1].Err
		} else {
			rec = &llm.ErrorRecord{Kind: llm.KindProviderError, Message: err.Error()}
		}
	}
	return c.JSON(llm.StatusFromKind(rec.Kind), errorEnvelope(rec))
}

func errorEnvelope(rec *llm.ErrorRecord) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message": rec.Message,
			"type":    string(rec.Kind),
			"code":    rec.ProviderCode,
		},
	}
}

// renderResponse shapes a normalized response as an OpenAI chat completion.
func renderResponse(resp *llm.CompletionResponse) map[string]any {
	choices := make([]map[string]any, len(resp.Choices))
	for i, ch := range resp.Choices {
		msg := map[string]any{
			"role":    string(ch.Message.Role),
			"content": ch.Message.Content,
		}
		if len(ch.Message.ToolCalls) > 0 {
			var calls []map[string]any
			for _, tc := range ch.Message.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": tc.Arguments,
					},
				})
			}
			msg["tool_calls"] = calls
		}
		choices[i] = map[string]any{
			"index":         ch.Index,
			"message":       msg,
			"finish_reason": string(ch.FinishReason),
		}
	}
	out := map[string]any{
		"id":      resp.ID,
		"object":  "chat.completion",
		"created": resp.Created,
		"model":   resp.Model,
		"choices": choices,
	}
	if resp.Usage != nil {
		out["usage"] = map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	return out
}

// renderChunk shapes one stream chunk as an OpenAI chat.completion.chunk.
func renderChunk(model string, chunk llm.StreamChunk) map[string]any {
	delta := map[string]any{}
	if chunk.DeltaContent != "" {
		delta["content"] = chunk.DeltaContent
	}
	if len(chunk.DeltaToolCalls) > 0 {
		var calls []map[string]any
		for _, tc := range chunk.DeltaToolCalls {
			calls = append(calls, map[string]any{
				"index": tc.Index,
				"id":    tc.ID,
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": tc.Arguments,
				},
			})
		}
		delta["tool_calls"] = calls
	}
	choice := map[string]any{
		"index": chunk.ChoiceIndex,
		"delta": delta,
	}
	if chunk.FinishReason != nil {
		choice["finish_reason"] = string(*chunk.FinishReason)
	}
	out := map[string]any{
		"object":  "chat.completion.chunk",
		"model":   model,
		"choices": []map[string]any{choice},
	}
	if chunk.Usage != nil {
		out["usage"] = map[string]any{
			"prompt_tokens":     chunk.Usage.PromptTokens,
			"completion_tokens": chunk.Usage.CompletionTokens,
			"total_tokens":      chunk.Usage.TotalTokens,
		}
	}
	return out
}
