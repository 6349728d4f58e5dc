package observer

import (
	"context"
	"time"

	bluebonnet "github.com/lonestar-labs/bluebonnet"

	"go.opentelemetry.io/otel/metric"
)

// compile-time check: Instruments plugs into the chatbot's metrics port.
var _ bluebonnet.PipelineMetrics = (*Instruments)(nil)

// RecordRequest records a completed pipeline request: the request counter by
// response type and status, and per-node durations when debug records were
// collected. Call it from the serving layer after Chatbot.Ask returns.
func (i *Instruments) RecordRequest(ctx context.Context, responseType bluebonnet.Intent, err error, elapsed time.Duration, debug []bluebonnet.DebugRecord) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	i.PipelineRequests.Add(ctx, 1, metric.WithAttributes(
		AttrPipelineIntent.String(string(responseType)),
		AttrPipelineStatus.String(status),
	))
	i.NodeDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		AttrPipelineNode.String("total"),
	))
	for _, rec := range debug {
		i.NodeDuration.Record(ctx, float64(rec.ElapsedMS), metric.WithAttributes(
			AttrPipelineNode.String(rec.Node),
		))
	}
}

// RecordRetrieval records how many chunks a retrieval produced.
func (i *Instruments) RecordRetrieval(ctx context.Context, mode string, source bluebonnet.SourceType, count int) {
	i.RetrievalChunks.Record(ctx, int64(count), metric.WithAttributes(
		AttrRetrievalMode.String(mode),
		AttrRetrievalSource.String(string(source)),
	))
}

// RecordRerankScores records the normalized judge scores kept after reranking.
func (i *Instruments) RecordRerankScores(ctx context.Context, chunks []bluebonnet.RankedChunk) {
	for _, c := range chunks {
		i.RerankScore.Record(ctx, c.RerankScore)
	}
}
