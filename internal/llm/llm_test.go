package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClientComplete(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello back"}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(Opts{BaseURL: srv.URL, APIKey: "sk-test", Model: "test-model"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Complete(context.Background(), Request{System: "be terse", User: "hi", MaxTokens: 64})
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello back" {
		t.Errorf("completion = %q", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["max_tokens"] != float64(64) {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", gotBody["messages"])
	}
}

func TestHTTPClientNon200(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(Opts{BaseURL: srv.URL, APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Complete(context.Background(), Request{User: "hi"}); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestHTTPClientNoChoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(Opts{BaseURL: srv.URL, APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Complete(context.Background(), Request{User: "hi"}); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

func TestNewHTTPClientValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewHTTPClient(Opts{APIKey: "k"}); err == nil {
		t.Error("missing base URL accepted")
	}
	if _, err := NewHTTPClient(Opts{BaseURL: "http://x"}); err == nil {
		t.Error("missing API key accepted")
	}
	c, err := NewHTTPClient(Opts{BaseURL: "http://x", APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Opts.Model == "" {
		t.Error("default model not applied")
	}
}

func TestStubCannedResponses(t *testing.T) {
	t.Parallel()
	s := &Stub{Responses: []string{"one", "two"}}
	ctx := context.Background()

	for i, want := range []string{"one", "two", "two"} {
		got, err := s.Complete(ctx, Request{User: "q"})
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("call %d = %q, want %q", i, got, want)
		}
	}
	if len(s.Calls) != 3 {
		t.Errorf("calls recorded = %d", len(s.Calls))
	}
}

func TestStubEchoesWithoutResponses(t *testing.T) {
	t.Parallel()
	s := &Stub{}
	got, err := s.Complete(context.Background(), Request{User: "echo me"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "echo me" {
		t.Errorf("got %q", got)
	}
}

func TestStubHonorsContext(t *testing.T) {
	t.Parallel()
	s := &Stub{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Complete(ctx, Request{User: "x"}); err == nil {
		t.Fatal("expected context error")
	}
}
