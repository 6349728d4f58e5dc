package bluebonnet

import "context"

// Filter narrows a chunk store search. Zero value matches everything.
// FilenameEquals is an exact match; the Contains fields are substring
// matches.
type Filter struct {
	FilenameEquals   string
	FilenameContains string
	TextContains     string
}

// ChunkStore is a read-only client for the externally indexed policy corpus.
// Implementations retry transient failures (network, 5xx) up to 3 times with
// exponential backoff starting at 500ms; persistent failures surface as
// *ErrUpstream.
type ChunkStore interface {
	// DenseSearch returns the k nearest chunks by cosine similarity,
	// ordered by similarity descending.
	DenseSearch(ctx context.Context, embedding []float32, k int, filter *Filter) ([]RankedChunk, error)
	// KeywordSearch returns the k best lexical matches for the query text,
	// ordered by lexical score descending.
	KeywordSearch(ctx context.Context, query string, k int, filter *Filter) ([]RankedChunk, error)
	// HybridSearch fuses dense and keyword results with Reciprocal Rank
	// Fusion and returns the k best, ordered by fused score descending.
	HybridSearch(ctx context.Context, embedding []float32, query string, k int, filter *Filter) ([]RankedChunk, error)
}

// --- Reciprocal Rank Fusion ---

const rrfK = 60

// ReciprocalRankFusion merges ranked lists by RRF with constant c=60:
// fused(d) = Σᵢ 1/(c + rankᵢ(d)) over the lists containing d, ranks 1-based.
// The result carries the fused score as RetrievalScore and is ordered
// descending with deterministic tie-breaks. Chunk metadata is taken from the
// first list that contains the chunk.
func ReciprocalRankFusion(lists ...[]RankedChunk) []RankedChunk {
	type entry struct {
		chunk RankedChunk
		score float64
	}
	merged := make(map[string]*entry)

	for _, list := range lists {
		for rank, rc := range list {
			e, ok := merged[rc.ID]
			if !ok {
				e = &entry{chunk: rc}
				merged[rc.ID] = e
			}
			e.score += 1.0 / float64(rrfK+rank+1)
		}
	}

	fused := make([]RankedChunk, 0, len(merged))
	for _, e := range merged {
		rc := e.chunk
		rc.RetrievalScore = e.score
		fused = append(fused, rc)
	}
	SortByRetrieval(fused)
	return fused
}
