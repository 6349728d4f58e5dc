package bluebonnet

import (
	"context"
	"fmt"
	"log/slog"
)

// SufficiencyConfig decides when vector retrieval alone answers a query and
// the web call can be skipped entirely.
type SufficiencyConfig struct {
	// MinChunks is the minimum number of reranked chunks (default 3).
	MinChunks int
	// MinTopScore is the rerank score the best chunk must exceed
	// (default 0.7, strict inequality).
	MinTopScore float64
}

// DefaultSufficiency returns the stock thresholds. Operators tune these per
// deployment.
func DefaultSufficiency() SufficiencyConfig {
	return SufficiencyConfig{MinChunks: 3, MinTopScore: 0.7}
}

// Sufficient reports whether vector retrieval cleared both thresholds: the
// count gate checks how many chunks retrieval produced (before the reranker
// truncated the set), the score gate checks the best reranked chunk. reranked
// must be ordered by rerank score descending.
func (c SufficiencyConfig) Sufficient(retrievedCount int, reranked []RankedChunk) bool {
	if retrievedCount < c.MinChunks {
		return false
	}
	return len(reranked) > 0 && reranked[0].RerankScore > c.MinTopScore
}

// WebFallback supplements weak vector retrievals with live web search.
// Vector results are reranked first; when they clear the sufficiency
// thresholds no web call is made. Otherwise web chunks are fetched, tagged,
// merged with the vector chunks, and the joint set is reranked.
type WebFallback struct {
	web         Retriever
	reranker    *LLMReranker
	sufficiency SufficiencyConfig
	webK        int
	logger      *slog.Logger
}

// WebFallbackOption configures a WebFallback.
type WebFallbackOption func(*WebFallback)

// WebFallbackSufficiency overrides the sufficiency thresholds.
func WebFallbackSufficiency(c SufficiencyConfig) WebFallbackOption {
	return func(w *WebFallback) { w.sufficiency = c }
}

// WebFallbackK caps how many web results are fetched (default 5).
func WebFallbackK(k int) WebFallbackOption {
	return func(w *WebFallback) { w.webK = k }
}

// WebFallbackLogger sets the structured logger.
func WebFallbackLogger(l *slog.Logger) WebFallbackOption {
	return func(w *WebFallback) { w.logger = l }
}

// NewWebFallback creates the handler. web is the external-search retriever;
// reranker judges the merged candidate set.
func NewWebFallback(web Retriever, reranker *LLMReranker, opts ...WebFallbackOption) *WebFallback {
	w := &WebFallback{
		web:         web,
		reranker:    reranker,
		sufficiency: DefaultSufficiency(),
		webK:        5,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = nopLogger
	}
	return w
}

// FallbackResult is the outcome of the hybrid path.
type FallbackResult struct {
	// Chunks is the final reranked candidate set for generation.
	Chunks []RankedChunk
	// UsedWeb is set when web results were fetched and merged; the response
	// type becomes web_fallback only in that case.
	UsedWeb bool
	// RerankFellBack is set when any rerank pass fell back to retrieval order.
	RerankFellBack bool
}

// Supplement runs the sufficiency gate over the vector results and, when
// they fall short, merges in web results and reranks the joint set.
// retrievedCount is the size of the retrieval candidate set before rerank
// truncation; reranked is the kept set. query must be the same string used
// for vector retrieval. n caps the returned set.
func (w *WebFallback) Supplement(ctx context.Context, query, conversationSummary string, retrievedCount int, reranked []RankedChunk, n int) (FallbackResult, error) {
	if w.sufficiency.Sufficient(retrievedCount, reranked) {
		w.logger.Debug("vector retrieval sufficient, skipping web search",
			"retrieved", retrievedCount, "top_score", topRerankScore(reranked))
		return FallbackResult{Chunks: reranked}, nil
	}

	webChunks, err := w.web.Search(ctx, query, w.webK)
	if err != nil {
		if ctx.Err() != nil {
			return FallbackResult{}, ctx.Err()
		}
		// Degrade to the vector-only answer rather than failing the request.
		w.logger.Warn("web search failed, answering from vector results only", "error", err)
		return FallbackResult{Chunks: reranked}, nil
	}
	for i := range webChunks {
		webChunks[i].Source = SourceWeb
	}
	w.logger.Debug("supplementing with web results", "web_chunks", len(webChunks))

	merged := mergeChunks(reranked, webChunks)
	res, err := w.reranker.RerankConversational(ctx, query, conversationSummary, merged, n)
	if err != nil {
		return FallbackResult{}, fmt.Errorf("rerank merged set: %w", err)
	}
	return FallbackResult{
		Chunks:         res.Chunks,
		UsedWeb:        len(webChunks) > 0,
		RerankFellBack: res.FellBack,
	}, nil
}

// mergeChunks concatenates vector and web chunks, dropping web duplicates of
// chunks already present by ID.
func mergeChunks(vector, web []RankedChunk) []RankedChunk {
	seen := make(map[string]bool, len(vector))
	out := make([]RankedChunk, 0, len(vector)+len(web))
	for _, c := range vector {
		seen[c.ID] = true
		out = append(out, c)
	}
	for _, c := range web {
		if c.ID != "" && seen[c.ID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

func topRerankScore(chunks []RankedChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	return chunks[0].RerankScore
}
