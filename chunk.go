package bluebonnet

import (
	"fmt"
	"sort"
	"strings"
)

// --- Corpus types ---

// SourceType distinguishes corpus chunks from web-search supplements.
type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceWeb      SourceType = "web"
)

// Chunk is a retrievable text unit from the policy corpus with provenance
// metadata. The context fields are embedding-time enrichments kept for
// inspection only — they are never rendered into generation prompts.
type Chunk struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Filename  string `json:"filename"`
	Page      string `json:"page"` // decimal page number, "N/A", or "web"
	SourceURL string `json:"source_url,omitempty"`

	HasContext      bool   `json:"has_context,omitempty"`
	MasterContext   string `json:"master_context,omitempty"`
	DocumentContext string `json:"document_context,omitempty"`
	ChunkContext    string `json:"chunk_context,omitempty"`
}

// RankedChunk is a Chunk with per-query scores attached. RetrievalScore is
// the stage metric (cosine similarity or fused RRF score, not comparable
// across strategies); RerankScore is the judge score in [0, 1].
type RankedChunk struct {
	Chunk
	RetrievalScore float64    `json:"retrieval_score"`
	RerankScore    float64    `json:"rerank_score"`
	Source         SourceType `json:"source_type"`
}

// CitedSource is the provenance record behind a [Doc N] marker in an answer.
// Doc is the 1-based number assigned in the generation prompt.
type CitedSource struct {
	Doc      int    `json:"doc"`
	Filename string `json:"filename"`
	Page     string `json:"page"`
	URL      string `json:"url,omitempty"`
}

// FormatChunk renders a chunk the way the generator sees it: a citation
// header built from metadata, then the stored text verbatim. doc is the
// 1-based number the answer cites as [Doc N].
func FormatChunk(doc int, c Chunk) string {
	return fmt.Sprintf("[Doc %d: %s, Page %s]\n%s", doc, c.Filename, c.Page, c.Text)
}

// TruncateText shortens s to at most max bytes, cutting back to the previous
// word boundary when one exists in the final quarter. Used to cap chunk text
// in batched judge prompts.
func TruncateText(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max*3/4 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ") + "…"
}

// SortByRetrieval orders chunks by RetrievalScore descending. Ties break by
// (filename, page, chunk id) ascending so equal-scored results are stable
// across runs.
func SortByRetrieval(chunks []RankedChunk) {
	sortChunks(chunks, func(c RankedChunk) float64 { return c.RetrievalScore })
}

// SortByRerank orders chunks by RerankScore descending with the same
// deterministic tie-break.
func SortByRerank(chunks []RankedChunk) {
	sortChunks(chunks, func(c RankedChunk) float64 { return c.RerankScore })
}

func sortChunks(chunks []RankedChunk, score func(RankedChunk) float64) {
	sort.Slice(chunks, func(i, j int) bool {
		si, sj := score(chunks[i]), score(chunks[j])
		if si != sj {
			return si > sj
		}
		return tieLess(chunks[i], chunks[j])
	})
}

// tieLess is the deterministic ordering for equal-scored chunks.
func tieLess(a, b RankedChunk) bool {
	if a.Filename != b.Filename {
		return a.Filename < b.Filename
	}
	if a.Page != b.Page {
		return a.Page < b.Page
	}
	return a.ID < b.ID
}
