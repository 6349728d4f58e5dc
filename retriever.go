package bluebonnet

import (
	"context"
	"fmt"
)

// Retriever is a retrieval strategy. Search returns up to k chunks for the
// query, ordered by RetrievalScore descending with deterministic tie-breaks.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]RankedChunk, error)
}

// RetrievalMode selects a retrieval strategy per request.
type RetrievalMode string

const (
	ModeDense   RetrievalMode = "dense"
	ModeHybrid  RetrievalMode = "hybrid"
	ModeManaged RetrievalMode = "managed"
)

// ParseRetrievalMode validates a mode string from config or a request.
// Unknown modes return *ErrInvalidArgument.
func ParseRetrievalMode(s string) (RetrievalMode, error) {
	switch m := RetrievalMode(s); m {
	case ModeDense, ModeHybrid, ModeManaged:
		return m, nil
	}
	return "", &ErrInvalidArgument{
		Field:  "retrieval_mode",
		Reason: fmt.Sprintf("%q is not one of dense, hybrid, managed", s),
	}
}

// DefaultMinSimilarity is the dense-retrieval floor: candidates scoring
// below it are dropped.
const DefaultMinSimilarity = 0.3

// --- DenseRetriever ---

// DenseRetriever embeds the query and searches the chunk store by cosine
// similarity, dropping candidates below a minimum-similarity threshold.
type DenseRetriever struct {
	store     ChunkStore
	embedding EmbeddingProvider
	minScore  float64
	filter    *Filter
}

var _ Retriever = (*DenseRetriever)(nil)

// DenseOption configures a DenseRetriever.
type DenseOption func(*DenseRetriever)

// DenseMinScore overrides the minimum-similarity threshold
// (default: DefaultMinSimilarity). Zero disables the floor.
func DenseMinScore(s float64) DenseOption {
	return func(r *DenseRetriever) { r.minScore = s }
}

// DenseFilter restricts the search to chunks matching the filter.
func DenseFilter(f *Filter) DenseOption {
	return func(r *DenseRetriever) { r.filter = f }
}

// NewDenseRetriever creates the dense strategy over store and embedding.
func NewDenseRetriever(store ChunkStore, embedding EmbeddingProvider, opts ...DenseOption) *DenseRetriever {
	r := &DenseRetriever{store: store, embedding: embedding, minScore: DefaultMinSimilarity}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *DenseRetriever) Search(ctx context.Context, query string, k int) ([]RankedChunk, error) {
	emb, err := embedQuery(ctx, r.embedding, query)
	if err != nil {
		return nil, err
	}
	chunks, err := r.store.DenseSearch(ctx, emb, k, r.filter)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	if r.minScore > 0 {
		kept := chunks[:0]
		for _, c := range chunks {
			if c.RetrievalScore >= r.minScore {
				kept = append(kept, c)
			}
		}
		chunks = kept
	}
	return chunks, nil
}

// --- HybridRetriever ---

// HybridRetriever embeds the query and runs the store's RRF-fused
// dense+keyword search. Fused scores are rank metrics, not similarities,
// so no lower bound is applied.
type HybridRetriever struct {
	store     ChunkStore
	embedding EmbeddingProvider
	filter    *Filter
}

var _ Retriever = (*HybridRetriever)(nil)

// NewHybridRetriever creates the hybrid strategy over store and embedding.
func NewHybridRetriever(store ChunkStore, embedding EmbeddingProvider) *HybridRetriever {
	return &HybridRetriever{store: store, embedding: embedding}
}

func (r *HybridRetriever) Search(ctx context.Context, query string, k int) ([]RankedChunk, error) {
	emb, err := embedQuery(ctx, r.embedding, query)
	if err != nil {
		return nil, err
	}
	chunks, err := r.store.HybridSearch(ctx, emb, query, k, r.filter)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	return chunks, nil
}

// --- KeywordRetriever ---

// KeywordRetriever searches by lexical score only. It exists for
// ablation runs in the evaluation harness, not for serving.
type KeywordRetriever struct {
	store  ChunkStore
	filter *Filter
}

var _ Retriever = (*KeywordRetriever)(nil)

func NewKeywordRetriever(store ChunkStore) *KeywordRetriever {
	return &KeywordRetriever{store: store}
}

func (r *KeywordRetriever) Search(ctx context.Context, query string, k int) ([]RankedChunk, error) {
	chunks, err := r.store.KeywordSearch(ctx, query, k, r.filter)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return chunks, nil
}

// --- ManagedRetriever ---

// ManagedIndex is a hosted search service holding the same corpus. Query
// performs the service's own similarity search; any service-side reranking
// is ignored — the pipeline's LLM reranker still runs downstream so results
// stay comparable across retrieval modes.
type ManagedIndex interface {
	Query(ctx context.Context, embedding []float32, k int) ([]RankedChunk, error)
	Name() string
}

// ManagedRetriever adapts a ManagedIndex to the Retriever strategy.
type ManagedRetriever struct {
	index     ManagedIndex
	embedding EmbeddingProvider
}

var _ Retriever = (*ManagedRetriever)(nil)

func NewManagedRetriever(index ManagedIndex, embedding EmbeddingProvider) *ManagedRetriever {
	return &ManagedRetriever{index: index, embedding: embedding}
}

func (r *ManagedRetriever) Search(ctx context.Context, query string, k int) ([]RankedChunk, error) {
	emb, err := embedQuery(ctx, r.embedding, query)
	if err != nil {
		return nil, err
	}
	chunks, err := r.index.Query(ctx, emb, k)
	if err != nil {
		return nil, fmt.Errorf("managed search %s: %w", r.index.Name(), err)
	}
	SortByRetrieval(chunks)
	return chunks, nil
}

// embedQuery embeds a single query string.
func embedQuery(ctx context.Context, e EmbeddingProvider, query string) ([]float32, error) {
	embs, err := e.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embs) == 0 {
		return nil, fmt.Errorf("embed query: no embedding returned")
	}
	return embs[0], nil
}
