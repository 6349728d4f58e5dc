package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

func TestProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify request.
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content-type: %s", r.Header.Get("Content-Type"))
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("expected model gpt-4o, got %s", req.Model)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			ID: "chatcmpl-1",
			Choices: []Choice{{
				Index:   0,
				Message: &ChoiceMessage{Role: "assistant", Content: "Hello!"},
			}},
			Usage: &Usage{PromptTokens: 5, CompletionTokens: 2},
		})
	}))
	defer srv.Close()

	p := NewProvider("test-key", "gpt-4o", srv.URL)

	resp, err := p.Complete(context.Background(), bluebonnet.ChatRequest{
		Messages: []bluebonnet.ChatMessage{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	if resp.Content != "Hello!" {
		t.Errorf("expected content 'Hello!', got %q", resp.Content)
	}
	if resp.Usage.InputTokens != 5 {
		t.Errorf("expected 5 input tokens, got %d", resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != 2 {
		t.Errorf("expected 2 output tokens, got %d", resp.Usage.OutputTokens)
	}
}

func TestProvider_CompleteWithSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.ResponseFormat == nil {
			t.Fatal("expected response_format to be set")
		}
		if req.ResponseFormat.Type != "json_schema" {
			t.Errorf("expected type json_schema, got %s", req.ResponseFormat.Type)
		}
		if req.ResponseFormat.JSONSchema == nil || req.ResponseFormat.JSONSchema.Name != "intent" {
			t.Error("expected json_schema name 'intent'")
		}
		if !req.ResponseFormat.JSONSchema.Strict {
			t.Error("expected strict mode")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			ID: "chatcmpl-2",
			Choices: []Choice{{
				Index:   0,
				Message: &ChoiceMessage{Role: "assistant", Content: `{"intent":"information"}`},
			}},
		})
	}))
	defer srv.Close()

	p := NewProvider("test-key", "gpt-4o", srv.URL)

	resp, err := p.Complete(context.Background(), bluebonnet.ChatRequest{
		Messages: []bluebonnet.ChatMessage{{Role: "user", Content: "classify this"}},
		ResponseSchema: &bluebonnet.ResponseSchema{
			Name:   "intent",
			Schema: json.RawMessage(`{"type":"object","properties":{"intent":{"type":"string"}}}`),
		},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if resp.Content != `{"intent":"information"}` {
		t.Errorf("unexpected content: %q", resp.Content)
	}
}

func TestProvider_Complete_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	p := NewProvider("test-key", "gpt-4o", srv.URL)

	_, err := p.Complete(context.Background(), bluebonnet.ChatRequest{
		Messages: []bluebonnet.ChatMessage{{Role: "user", Content: "Hi"}},
	})

	if err == nil {
		t.Fatal("expected error for 429 response")
	}

	httpErr, ok := err.(*bluebonnet.ErrHTTP)
	if !ok {
		t.Fatalf("expected *bluebonnet.ErrHTTP, got %T", err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", httpErr.Status)
	}
	if httpErr.RetryAfter != 7*time.Second {
		t.Errorf("expected RetryAfter of 7s, got %v", httpErr.RetryAfter)
	}
}

func TestProvider_Name(t *testing.T) {
	p := NewProvider("key", "model", "http://localhost")
	if p.Name() != "openai" {
		t.Errorf("expected default name 'openai', got %q", p.Name())
	}

	p = NewProvider("key", "model", "http://localhost", WithName("groq"))
	if p.Name() != "groq" {
		t.Errorf("expected name 'groq', got %q", p.Name())
	}
}

func TestProvider_NoAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("expected no auth header for empty API key")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			ID: "chatcmpl-3",
			Choices: []Choice{{
				Index:   0,
				Message: &ChoiceMessage{Role: "assistant", Content: "OK"},
			}},
		})
	}))
	defer srv.Close()

	// Ollama and other local providers don't need API keys.
	p := NewProvider("", "llama3", srv.URL)

	resp, err := p.Complete(context.Background(), bluebonnet.ChatRequest{
		Messages: []bluebonnet.ChatMessage{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if resp.Content != "OK" {
		t.Errorf("expected content 'OK', got %q", resp.Content)
	}
}

func TestProvider_WithOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Temperature == nil || *req.Temperature != 0.7 {
			t.Errorf("expected temperature 0.7, got %v", req.Temperature)
		}
		if req.MaxTokens != 2048 {
			t.Errorf("expected max_tokens 2048, got %d", req.MaxTokens)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			ID: "chatcmpl-4",
			Choices: []Choice{{
				Index:   0,
				Message: &ChoiceMessage{Role: "assistant", Content: "OK"},
			}},
		})
	}))
	defer srv.Close()

	p := NewProvider("key", "gpt-4o", srv.URL,
		WithOptions(WithTemperature(0.7), WithMaxTokens(2048)),
	)

	_, err := p.Complete(context.Background(), bluebonnet.ChatRequest{
		Messages: []bluebonnet.ChatMessage{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
}

func TestProvider_PerRequestParamsOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		// Per-request temperature wins over provider default.
		if req.Temperature == nil || *req.Temperature != 0.1 {
			t.Errorf("expected temperature 0.1, got %v", req.Temperature)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			ID: "chatcmpl-5",
			Choices: []Choice{{
				Index:   0,
				Message: &ChoiceMessage{Role: "assistant", Content: "OK"},
			}},
		})
	}))
	defer srv.Close()

	p := NewProvider("key", "gpt-4o", srv.URL, WithOptions(WithTemperature(0.9)))

	temp := 0.1
	_, err := p.Complete(context.Background(), bluebonnet.ChatRequest{
		Messages: []bluebonnet.ChatMessage{{Role: "user", Content: "Hi"}},
		Params:   &bluebonnet.GenerationParams{Temperature: &temp},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
}
