package bluebonnet

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// stubChunkStore records calls and serves canned results per search kind.
type stubChunkStore struct {
	dense   []RankedChunk
	keyword []RankedChunk
	hybrid  []RankedChunk
	err     error

	lastKind  string
	lastK     int
	lastQuery string
}

func (s *stubChunkStore) DenseSearch(_ context.Context, _ []float32, k int, _ *Filter) ([]RankedChunk, error) {
	s.lastKind, s.lastK = "dense", k
	return s.dense, s.err
}

func (s *stubChunkStore) KeywordSearch(_ context.Context, query string, k int, _ *Filter) ([]RankedChunk, error) {
	s.lastKind, s.lastK, s.lastQuery = "keyword", k, query
	return s.keyword, s.err
}

func (s *stubChunkStore) HybridSearch(_ context.Context, _ []float32, query string, k int, _ *Filter) ([]RankedChunk, error) {
	s.lastKind, s.lastK, s.lastQuery = "hybrid", k, query
	return s.hybrid, s.err
}

// stubEmbedding returns a fixed vector per text.
type stubEmbedding struct {
	err   error
	calls int
}

func (e *stubEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (e *stubEmbedding) Dimensions() int { return 3 }
func (e *stubEmbedding) Name() string    { return "stub-embedding" }

func withScores(scores ...float64) []RankedChunk {
	out := make([]RankedChunk, len(scores))
	for i, s := range scores {
		out[i] = RankedChunk{
			Chunk:          Chunk{ID: fmt.Sprintf("c%d", i), Filename: "f.pdf", Page: "1"},
			RetrievalScore: s,
		}
	}
	return out
}

func TestDenseRetriever_FiltersBelowMinScore(t *testing.T) {
	store := &stubChunkStore{dense: withScores(0.9, 0.31, 0.29, 0.1)}
	r := NewDenseRetriever(store, &stubEmbedding{})

	chunks, err := r.Search(context.Background(), "copay", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks above %v, got %d", DefaultMinSimilarity, len(chunks))
	}
	if store.lastKind != "dense" || store.lastK != 10 {
		t.Errorf("store called as %s k=%d", store.lastKind, store.lastK)
	}
}

func TestDenseRetriever_ZeroMinScoreDisablesFloor(t *testing.T) {
	store := &stubChunkStore{dense: withScores(0.2, 0.01)}
	r := NewDenseRetriever(store, &stubEmbedding{}, DenseMinScore(0))

	chunks, err := r.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Errorf("expected all chunks, got %d", len(chunks))
	}
}

func TestDenseRetriever_EmbeddingFailure(t *testing.T) {
	r := NewDenseRetriever(&stubChunkStore{}, &stubEmbedding{err: fmt.Errorf("quota exceeded")})
	_, err := r.Search(context.Background(), "q", 5)
	if err == nil {
		t.Fatal("expected embedding error")
	}
}

func TestHybridRetriever_NoFloorOnFusedScores(t *testing.T) {
	// RRF scores live far below any similarity floor.
	store := &stubChunkStore{hybrid: withScores(0.032, 0.016)}
	r := NewHybridRetriever(store, &stubEmbedding{})

	chunks, err := r.Search(context.Background(), "income limit", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Errorf("fused scores must not be floored, got %d chunks", len(chunks))
	}
	if store.lastQuery != "income limit" {
		t.Errorf("query = %q", store.lastQuery)
	}
}

func TestKeywordRetriever(t *testing.T) {
	store := &stubChunkStore{keyword: withScores(3.2, 1.1)}
	r := NewKeywordRetriever(store)

	chunks, err := r.Search(context.Background(), "TRS", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || store.lastKind != "keyword" {
		t.Errorf("unexpected result: %d chunks via %s", len(chunks), store.lastKind)
	}
}

// stubManagedIndex serves canned results in service order.
type stubManagedIndex struct {
	chunks []RankedChunk
	err    error
}

func (s *stubManagedIndex) Query(_ context.Context, _ []float32, _ int) ([]RankedChunk, error) {
	return s.chunks, s.err
}
func (s *stubManagedIndex) Name() string { return "stub-index" }

func TestManagedRetriever_SortsByRetrievalScore(t *testing.T) {
	idx := &stubManagedIndex{chunks: withScores(0.4, 0.9, 0.7)}
	r := NewManagedRetriever(idx, &stubEmbedding{})

	chunks, err := r.Search(context.Background(), "q", 3)
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0].RetrievalScore != 0.9 || chunks[2].RetrievalScore != 0.4 {
		t.Errorf("not sorted descending: %v, %v, %v",
			chunks[0].RetrievalScore, chunks[1].RetrievalScore, chunks[2].RetrievalScore)
	}
}

func TestParseRetrievalMode(t *testing.T) {
	for _, s := range []string{"dense", "hybrid", "managed"} {
		if _, err := ParseRetrievalMode(s); err != nil {
			t.Errorf("ParseRetrievalMode(%q) failed: %v", s, err)
		}
	}
	_, err := ParseRetrievalMode("semantic")
	var invalid *ErrInvalidArgument
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ErrInvalidArgument, got %v", err)
	}
}
