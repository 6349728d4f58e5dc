package bluebonnet

import (
	"context"
	"time"
)

// PipelineMetrics receives pipeline-level measurements. The observer
// package's Instruments satisfies it; wire with WithMetrics. All methods
// must be safe for concurrent use and must not block.
type PipelineMetrics interface {
	// RecordRequest is called once per Ask with the final response type,
	// the pipeline error (nil on success), total elapsed time, and any
	// per-node debug records.
	RecordRequest(ctx context.Context, responseType Intent, err error, elapsed time.Duration, debug []DebugRecord)
	// RecordRetrieval is called after each retrieval with the mode and how
	// many chunks the given source produced.
	RecordRetrieval(ctx context.Context, mode string, source SourceType, count int)
	// RecordRerankScores is called with the chunks kept after reranking.
	RecordRerankScores(ctx context.Context, chunks []RankedChunk)
}
