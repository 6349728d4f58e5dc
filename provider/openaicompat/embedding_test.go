package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

func TestEmbedding_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected path /embeddings, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "text-embedding-3-small" {
			t.Errorf("expected model text-embedding-3-small, got %s", req.Model)
		}
		if len(req.Input) != 2 {
			t.Fatalf("expected 2 inputs, got %d", len(req.Input))
		}

		// Out-of-order data to verify index-based placement.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0.3,0.4]},
			{"index":0,"embedding":[0.1,0.2]}
		]}`))
	}))
	defer srv.Close()

	e := NewEmbedding("test-key", "text-embedding-3-small", srv.URL)

	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.3 {
		t.Errorf("vectors not placed by index: %v", vecs)
	}
}

func TestEmbedding_EmptyInput(t *testing.T) {
	e := NewEmbedding("key", "text-embedding-3-small", "http://localhost")
	if _, err := e.Embed(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestEmbedding_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1]}]}`))
	}))
	defer srv.Close()

	e := NewEmbedding("key", "text-embedding-3-small", srv.URL)
	if _, err := e.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for vector count mismatch")
	}
}

func TestEmbedding_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	e := NewEmbedding("key", "text-embedding-3-small", srv.URL)
	_, err := e.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	httpErr, ok := err.(*bluebonnet.ErrHTTP)
	if !ok {
		t.Fatalf("expected *bluebonnet.ErrHTTP, got %T", err)
	}
	if httpErr.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", httpErr.Status)
	}
}

func TestEmbedding_Dimensions(t *testing.T) {
	tests := []struct {
		model string
		opts  []EmbeddingOption
		want  int
	}{
		{"text-embedding-3-small", nil, 1536},
		{"text-embedding-3-large", nil, 3072},
		{"text-embedding-ada-002", nil, 1536},
		{"unknown-model", nil, 1536},
		{"unknown-model", []EmbeddingOption{EmbeddingDimensions(768)}, 768},
	}
	for _, tt := range tests {
		e := NewEmbedding("key", tt.model, "http://localhost", tt.opts...)
		if got := e.Dimensions(); got != tt.want {
			t.Errorf("Dimensions(%s) = %d, want %d", tt.model, got, tt.want)
		}
	}
}
