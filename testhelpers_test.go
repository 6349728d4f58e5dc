package bluebonnet

import (
	"context"
	"fmt"
	"sync"
)

// stubProvider returns queued responses in order; the last response repeats
// once the queue is exhausted. It records every request for assertions.
type stubProvider struct {
	mu        sync.Mutex
	name      string
	responses []string
	err       error
	calls     int
	requests  []ChatRequest
}

func (p *stubProvider) Name() string {
	if p.name == "" {
		return "stub"
	}
	return p.name
}

func (p *stubProvider) Complete(_ context.Context, req ChatRequest) (ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return ChatResponse{}, p.err
	}
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	if i < 0 {
		return ChatResponse{}, fmt.Errorf("stub provider has no responses")
	}
	return ChatResponse{Content: p.responses[i], Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

// stubRetriever returns a fixed candidate set, recording the last call.
type stubRetriever struct {
	chunks    []RankedChunk
	err       error
	lastQuery string
	lastK     int
}

func (r *stubRetriever) Search(ctx context.Context, query string, k int) ([]RankedChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.lastQuery = query
	r.lastK = k
	if r.err != nil {
		return nil, r.err
	}
	return r.chunks, nil
}

// policyChunks builds n ranked corpus chunks with descending retrieval scores.
func policyChunks(n int) []RankedChunk {
	out := make([]RankedChunk, n)
	for i := range out {
		out[i] = RankedChunk{
			Chunk: Chunk{
				ID:       fmt.Sprintf("c%d", i),
				Text:     fmt.Sprintf("Policy text %d about parent share of cost.", i),
				Filename: "ccs_handbook.pdf",
				Page:     fmt.Sprintf("%d", i+1),
			},
			RetrievalScore: 1.0 - float64(i)*0.1,
			Source:         SourceDocument,
		}
	}
	return out
}
