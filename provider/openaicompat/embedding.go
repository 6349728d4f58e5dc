package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

// Dimensions of known OpenAI embedding models. Unknown models fall back to
// 1536 unless overridden with EmbeddingDimensions.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

const defaultEmbeddingDimensions = 1536

// Embedding implements bluebonnet.EmbeddingProvider over the /embeddings
// endpoint.
type Embedding struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	name       string
	dimensions int
}

// EmbeddingOption configures an Embedding.
type EmbeddingOption func(*Embedding)

// EmbeddingDimensions overrides the vector size reported by Dimensions()
// for models not in the built-in table.
func EmbeddingDimensions(n int) EmbeddingOption {
	return func(e *Embedding) { e.dimensions = n }
}

// EmbeddingName sets the provider name returned by Name().
func EmbeddingName(name string) EmbeddingOption {
	return func(e *Embedding) { e.name = name }
}

// EmbeddingHTTPClient sets a custom HTTP client.
func EmbeddingHTTPClient(c *http.Client) EmbeddingOption {
	return func(e *Embedding) { e.client = c }
}

// NewEmbedding creates an embedding provider. The /embeddings path is
// appended to baseURL automatically.
func NewEmbedding(apiKey, model, baseURL string, opts ...EmbeddingOption) *Embedding {
	e := &Embedding{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dimensions == 0 {
		if d, ok := modelDimensions[model]; ok {
			e.dimensions = d
		} else {
			e.dimensions = defaultEmbeddingDimensions
		}
	}
	return e
}

func (e *Embedding) Name() string    { return e.name }
func (e *Embedding) Dimensions() int { return e.dimensions }

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, &bluebonnet.ErrLLM{Provider: e.name, Message: "embed: no input texts"}
	}

	payload, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, &bluebonnet.ErrLLM{Provider: e.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := e.baseURL + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &bluebonnet.ErrLLM{Provider: e.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &bluebonnet.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: bluebonnet.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &bluebonnet.ErrLLM{Provider: e.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(parsed.Data) != len(texts) {
		return nil, &bluebonnet.ErrLLM{
			Provider: e.name,
			Message:  fmt.Sprintf("embed: got %d vectors for %d inputs", len(parsed.Data), len(texts)),
		}
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &bluebonnet.ErrLLM{Provider: e.name, Message: fmt.Sprintf("embed: index %d out of range", d.Index)}
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Compile-time interface check.
var _ bluebonnet.EmbeddingProvider = (*Embedding)(nil)
