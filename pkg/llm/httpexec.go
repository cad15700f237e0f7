package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Config holds common connection configuration for provider adapters.
type Config struct {
	BaseURL string
	APIKey  string
}

// ExecuteWire performs a blocking wire call. Transport failures and non-2xx
// statuses come back as *ErrorRecord; callers never see a raw transport
// error.
func ExecuteWire(ctx context.Context, client *http.Client, provider string, wire *WireRequest) (*WireResponse, error) {
	resp, err := doWire(ctx, client, provider, wire)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErrorRecord{
			Kind:      KindConnectionError,
			Message:   fmt.Sprintf("reading response: %v", err),
			Provider:  provider,
			Retryable: true,
			Cause:     err,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ErrorFromResponse(provider, resp.StatusCode, resp.Header, body)
	}
	return &WireResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// ExecuteWireStreaming opens the raw byte stream for a streaming wire call.
// A non-2xx status before streaming begins is classified and returned; the
// caller never receives a body for a failed call.
func ExecuteWireStreaming(ctx context.Context, client *http.Client, provider string, wire *WireRequest) (io.ReadCloser, error) {
	resp, err := doWire(ctx, client, provider, wire)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		return nil, ErrorFromResponse(provider, resp.StatusCode, resp.Header, body)
	}
	return resp.Body, nil
}

func doWire(ctx context.Context, client *http.Client, provider string, wire *WireRequest) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wire.URL, bytes.NewReader(wire.Body))
	if err != nil {
		return nil, &ErrorRecord{
			Kind:     KindInvalidRequest,
			Message:  fmt.Sprintf("creating request: %v", err),
			Provider: provider,
			Cause:    err,
		}
	}
	for k, vs := range wire.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &ErrorRecord{
				Kind:      KindTimeout,
				Message:   "request deadline exceeded",
				Provider:  provider,
				Retryable: true,
				Cause:     err,
			}
		case errors.Is(err, context.Canceled):
			return nil, &ErrorRecord{
				Kind:     KindConnectionError,
				Message:  "request canceled",
				Provider: provider,
				Cause:    err,
			}
		default:
			return nil, &ErrorRecord{
				Kind:      KindConnectionError,
				Message:   fmt.Sprintf("sending request: %v", err),
				Provider:  provider,
				Retryable: true,
				Cause:     err,
			}
		}
	}
	return resp, nil
}
