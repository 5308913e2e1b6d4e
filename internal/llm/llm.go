// Package llm provides the opaque completion collaborator used by the engine
// and the reflection system: a request/response interface, an
// OpenAI-compatible HTTP client, and a deterministic stub for tests.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// Request is one completion call. The core never inspects prompts beyond
// passing them through.
type Request struct {
	System    string
	User      string
	MaxTokens int // 0 = provider default
}

// Client is an opaque free-text completion function.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Opts configures the OpenAI-compatible HTTP client.
type Opts struct {
	BaseURL string // e.g. https://api.openai.com
	APIKey  string
	Model   string // e.g. gpt-4o-mini
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	Opts Opts
	// HTTP is the underlying client; nil uses http.DefaultClient.
	HTTP *http.Client
}

// NewHTTPClient validates opts and returns a client.
func NewHTTPClient(opts Opts) (*HTTPClient, error) {
	if opts.BaseURL == "" || opts.APIKey == "" {
		return nil, errors.New("llm base URL and API key required")
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	return &HTTPClient{Opts: opts}, nil
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := []map[string]any{}
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]any{"role": "user", "content": req.User})
	reqBody := map[string]any{
		"model":    c.Opts.Model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		reqBody["max_tokens"] = req.MaxTokens
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	url := strings.TrimSuffix(c.Opts.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.Opts.APIKey)
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		slog.Warn("llm request failed", "err", err)
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm API returned %d", resp.StatusCode)
	}
	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", err
	}
	if len(apiResp.Choices) == 0 {
		return "", errors.New("llm API returned no choices")
	}
	return apiResp.Choices[0].Message.Content, nil
}

// Stub is a deterministic client for tests: it returns canned responses in
// order, then repeats the last one. With no responses it echoes the user
// prompt.
type Stub struct {
	Responses []string

	mu sync.Mutex
	i  int
	// Calls records every request, oldest first.
	Calls []Request
}

func (s *Stub) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, req)
	if len(s.Responses) == 0 {
		return req.User, nil
	}
	idx := s.i
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	}
	s.i++
	return s.Responses[idx], nil
}
