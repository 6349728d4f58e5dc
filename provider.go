package bluebonnet

import "context"

// Provider abstracts the LLM backend.
type Provider interface {
	// Complete sends a chat request and returns the full response.
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "groq", "openai").
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// Pipeline roles a Provider can be resolved for. Each role carries its own
// provider/model configuration so mixed-provider setups are possible.
const (
	RoleGenerator    = "generator"
	RoleReranker     = "reranker"
	RoleIntent       = "intent"
	RoleReformulator = "reformulator"
)
