package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMockGenerator(t *testing.T) {
	g := NewMockGenerator("first", "second")
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second"} {
		got, err := g.Generate(ctx, "p", Options{MaxTokens: 10})
		if err != nil || got != want {
			t.Errorf("Generate = %q, %v; want %q", got, err, want)
		}
	}
	if g.Calls() != 3 || g.LastPrompt() != "p" || g.LastOptions().MaxTokens != 10 {
		t.Errorf("calls=%d prompt=%q opts=%+v", g.Calls(), g.LastPrompt(), g.LastOptions())
	}

	failing := NewMockGeneratorWithError("quota exceeded")
	if _, err := failing.Generate(ctx, "p", Options{}); err == nil || err.Error() != "quota exceeded" {
		t.Errorf("expected scripted error, got %v", err)
	}
}

func TestDisabled(t *testing.T) {
	if _, err := (Disabled{}).Generate(context.Background(), "p", Options{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestOpenAIGenerator(t *testing.T) {
	var body struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  Python is a language.  "}}]
		}`))
	}))
	defer ts.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: ts.URL, APIKey: "test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Generate(context.Background(), "What is Python?", Options{MaxTokens: 500, Temperature: 0.7})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "  Python is a language.  " {
		t.Errorf("Generate = %q", got)
	}
	if body.Model != "gpt-4o-mini" || body.MaxTokens != 500 || body.Temperature != 0.7 {
		t.Errorf("unexpected request %+v", body)
	}
	if len(body.Messages) != 1 || body.Messages[0].Role != "user" || body.Messages[0].Content != "What is Python?" {
		t.Errorf("unexpected messages %+v", body.Messages)
	}
}

func TestOpenAIGenerator_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer ts.Close()

	g, _ := NewOpenAIGenerator(OpenAIConfig{BaseURL: ts.URL, APIKey: "test", Model: "m"})
	if _, err := g.Generate(context.Background(), "p", Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestOllamaGenerator(t *testing.T) {
	var req struct {
		Model   string         `json:"model"`
		Stream  *bool          `json:"stream"`
		Options map[string]any `json:"options"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"llama3.2","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"Hello "},"done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"model":"llama3.2","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"there"},"done":true}` + "\n"))
	}))
	defer ts.Close()

	g, err := NewOllamaGenerator(ts.URL, "llama3.2")
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Generate(context.Background(), "hi", Options{MaxTokens: 600, Temperature: 0.7})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Hello there" {
		t.Errorf("Generate = %q", got)
	}
	if req.Model != "llama3.2" || req.Stream == nil || *req.Stream {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Options["num_predict"] != float64(600) || req.Options["temperature"] != 0.7 {
		t.Errorf("unexpected options %v", req.Options)
	}
	if g.Model() != "llama3.2" {
		t.Errorf("Model = %q", g.Model())
	}
}

func TestOllamaGenerator_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'missing' not found"}`))
	}))
	defer ts.Close()

	g, _ := NewOllamaGenerator(ts.URL, "missing")
	if _, err := g.Generate(context.Background(), "hi", Options{}); err == nil {
		t.Fatal("expected error")
	}
}
