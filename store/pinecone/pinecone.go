// Package pinecone implements bluebonnet.ManagedIndex over a Pinecone index
// holding the same policy corpus as the primary vector store. The managed
// retrieval mode exists for parity comparison; Pinecone's own reranking is
// never requested, so the pipeline's judge reranker stays in charge.
package pinecone

import (
	"context"
	"fmt"
	"strconv"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
	"github.com/pinecone-io/go-pinecone/v3/pinecone"
)

// Index is a Pinecone-backed managed index.
type Index struct {
	pc      *pinecone.Client
	idxConn *pinecone.IndexConnection
	name    string
}

// Config holds Pinecone connection settings. IndexHost is optional; when
// empty it is resolved from IndexName via DescribeIndex.
type Config struct {
	APIKey    string
	IndexName string
	IndexHost string
	Namespace string
}

// New creates a managed index client and resolves its connection host.
func New(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.APIKey == "" {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "api_key", Reason: "must not be empty"}
	}
	if cfg.IndexName == "" && cfg.IndexHost == "" {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "index", Reason: "index name or host is required"}
	}

	pc, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("pinecone: create client: %w", err)
	}

	host := cfg.IndexHost
	if host == "" {
		idx, err := pc.DescribeIndex(ctx, cfg.IndexName)
		if err != nil {
			return nil, fmt.Errorf("pinecone: describe index %q: %w", cfg.IndexName, err)
		}
		host = idx.Host
	}

	idxConn, err := pc.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone: connect to index: %w", err)
	}

	return &Index{pc: pc, idxConn: idxConn, name: cfg.IndexName}, nil
}

// Name identifies the index in logs and debug records.
func (i *Index) Name() string { return i.name }

// Query returns the k nearest chunks by the service's similarity search.
func (i *Index) Query(ctx context.Context, embedding []float32, k int) ([]bluebonnet.RankedChunk, error) {
	if len(embedding) == 0 {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "embedding", Reason: "must not be empty"}
	}
	if k <= 0 {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "k", Reason: "must be positive"}
	}

	resp, err := i.idxConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          embedding,
		TopK:            uint32(k),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, &bluebonnet.ErrUpstream{Component: "store", Err: fmt.Errorf("pinecone query: %w", err)}
	}

	chunks := make([]bluebonnet.RankedChunk, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		rc := chunkFromMetadata(match.Vector.Id, match.Vector.Metadata)
		rc.RetrievalScore = float64(match.Score)
		chunks = append(chunks, rc)
	}
	return chunks, nil
}

// Close releases the index connection.
func (i *Index) Close() error {
	if i.idxConn != nil {
		return i.idxConn.Close()
	}
	return nil
}

// chunkFromMetadata maps Pinecone vector metadata (a protobuf Struct) to a
// RankedChunk, with the same tolerances as the qdrant store: page as number
// or string, text under "text" or "content".
func chunkFromMetadata(id string, md *pinecone.Metadata) bluebonnet.RankedChunk {
	rc := bluebonnet.RankedChunk{Source: bluebonnet.SourceDocument}
	rc.ID = id
	rc.Page = "N/A"

	if md == nil {
		return rc
	}
	m := md.AsMap()

	rc.Text = mapString(m, "text")
	if rc.Text == "" {
		rc.Text = mapString(m, "content")
	}
	rc.Filename = mapString(m, "filename")
	rc.SourceURL = mapString(m, "source_url")

	switch p := m["page"].(type) {
	case float64: // protobuf Struct numbers decode as float64
		rc.Page = strconv.FormatInt(int64(p), 10)
	case string:
		if p != "" {
			rc.Page = p
		}
	}

	if b, ok := m["has_context"].(bool); ok {
		rc.HasContext = b
	}
	rc.MasterContext = mapString(m, "master_context")
	rc.DocumentContext = mapString(m, "document_context")
	rc.ChunkContext = mapString(m, "chunk_context")
	return rc
}

func mapString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Compile-time interface check.
var _ bluebonnet.ManagedIndex = (*Index)(nil)
