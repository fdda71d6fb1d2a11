package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/codeready-toolchain/huddle/pkg/config"
)

// NewInvoker picks the invoker for the configured endpoint. An empty
// endpoint disables real dispatch: prompts complete immediately.
func NewInvoker(cfg *config.DispatchConfig) Invoker {
	if cfg == nil || cfg.AgentEndpoint == "" {
		return NoopInvoker{}
	}
	return NewHTTPInvoker(cfg.AgentEndpoint)
}

// NoopInvoker acks every invocation without calling anything.
type NoopInvoker struct{}

// Invoke implements Invoker.
func (NoopInvoker) Invoke(context.Context, Invocation) (Result, error) {
	return Result{Status: "completed"}, nil
}

// HTTPInvoker POSTs invocations to the agent endpoint as JSON. The
// per-call timeout comes from the context the pool passes in.
type HTTPInvoker struct {
	endpoint string
	client   *http.Client
}

// NewHTTPInvoker creates an invoker for the given endpoint URL.
func NewHTTPInvoker(endpoint string) *HTTPInvoker {
	return &HTTPInvoker{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

// Invoke implements Invoker.
func (i *HTTPInvoker) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return Result{}, fmt.Errorf("marshal invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build invocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("agent endpoint unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("agent endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// A body-less 2xx is a valid ack.
		return Result{}, nil
	}
	return result, nil
}
