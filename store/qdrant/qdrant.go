// Package qdrant implements bluebonnet.ChunkStore over a Qdrant collection
// holding the pre-indexed policy corpus. The store is read-only: indexing
// happens out of band.
package qdrant

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond

	// Keyword candidates are over-fetched so client-side scoring has
	// something to rank; Qdrant's full-text match selects but does not score.
	keywordCandidateCap = 200
)

var nopLogger = slog.New(slog.DiscardHandler)

// Store is a Qdrant-backed chunk store.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collection  string
	apiKey      string
	tls         bool
	maxRetries  int
	baseBackoff time.Duration
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithAPIKey sends the key as gRPC metadata on every call (Qdrant Cloud).
func WithAPIKey(key string) Option {
	return func(s *Store) { s.apiKey = key }
}

// WithLogger sets the logger for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRetry overrides the retry policy (default 3 attempts, 500ms base backoff).
func WithRetry(maxRetries int, baseBackoff time.Duration) Option {
	return func(s *Store) {
		s.maxRetries = maxRetries
		s.baseBackoff = baseBackoff
	}
}

// WithTLS enables transport security (required for Qdrant Cloud).
func WithTLS() Option {
	return func(s *Store) { s.tls = true }
}

// New connects to Qdrant at addr (host:port, gRPC port — usually 6334) and
// returns a store bound to the given collection.
func New(ctx context.Context, addr, collection string, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "addr", Reason: "must not be empty"}
	}
	if collection == "" {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "collection", Reason: "must not be empty"}
	}

	s := &Store{
		collection:  collection,
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}

	creds := insecure.NewCredentials()
	if s.tls {
		creds = credentials.NewTLS(&tls.Config{})
	}
	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect %s: %w", addr, err)
	}
	s.conn = conn
	s.points = pb.NewPointsClient(conn)
	return s, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// DenseSearch returns the k nearest chunks by cosine similarity.
func (s *Store) DenseSearch(ctx context.Context, embedding []float32, k int, filter *bluebonnet.Filter) ([]bluebonnet.RankedChunk, error) {
	if len(embedding) == 0 {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "embedding", Reason: "must not be empty"}
	}
	if k <= 0 {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "k", Reason: "must be positive"}
	}

	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(k),
		Filter:         buildFilter(filter),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}

	start := time.Now()
	var resp *pb.SearchResponse
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.points.Search(ctx, req)
		return err
	})
	if err != nil {
		return nil, &bluebonnet.ErrUpstream{Component: "store", Err: fmt.Errorf("dense search: %w", err)}
	}

	chunks := make([]bluebonnet.RankedChunk, 0, len(resp.Result))
	for _, point := range resp.Result {
		rc := chunkFromPayload(pointID(point.Id), point.Payload)
		rc.RetrievalScore = float64(point.Score)
		chunks = append(chunks, rc)
	}
	s.logger.Debug("dense search", "k", k, "results", len(chunks), "elapsed", time.Since(start))
	return chunks, nil
}

// KeywordSearch selects candidates with Qdrant's full-text match and ranks
// them client-side by term-frequency score.
func (s *Store) KeywordSearch(ctx context.Context, query string, k int, filter *bluebonnet.Filter) ([]bluebonnet.RankedChunk, error) {
	if query == "" {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "query", Reason: "must not be empty"}
	}
	if k <= 0 {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "k", Reason: "must be positive"}
	}

	// Candidate selection: any chunk whose text matches the query terms.
	f := buildFilter(filter)
	if f == nil {
		f = &pb.Filter{}
	}
	f.Must = append(f.Must, textMatch("text", query))

	limit := uint32(keywordCandidateCap)
	req := &pb.ScrollPoints{
		CollectionName: s.collection,
		Filter:         f,
		Limit:          &limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}

	start := time.Now()
	var resp *pb.ScrollResponse
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.points.Scroll(ctx, req)
		return err
	})
	if err != nil {
		return nil, &bluebonnet.ErrUpstream{Component: "store", Err: fmt.Errorf("keyword search: %w", err)}
	}

	terms := tokenize(query)
	chunks := make([]bluebonnet.RankedChunk, 0, len(resp.Result))
	for _, point := range resp.Result {
		rc := chunkFromPayload(pointID(point.Id), point.Payload)
		rc.RetrievalScore = lexicalScore(terms, rc.Text)
		if rc.RetrievalScore > 0 {
			chunks = append(chunks, rc)
		}
	}
	bluebonnet.SortByRetrieval(chunks)
	if len(chunks) > k {
		chunks = chunks[:k]
	}
	s.logger.Debug("keyword search", "k", k, "candidates", len(resp.Result), "results", len(chunks), "elapsed", time.Since(start))
	return chunks, nil
}

// HybridSearch fuses dense and keyword results with Reciprocal Rank Fusion.
func (s *Store) HybridSearch(ctx context.Context, embedding []float32, query string, k int, filter *bluebonnet.Filter) ([]bluebonnet.RankedChunk, error) {
	dense, err := s.DenseSearch(ctx, embedding, k, filter)
	if err != nil {
		return nil, err
	}
	keyword, err := s.KeywordSearch(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}

	fused := bluebonnet.ReciprocalRankFusion(dense, keyword)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// withRetry runs fn with the store's retry policy, attaching the API key as
// call metadata. Only transient gRPC failures are retried.
func (s *Store) withRetry(ctx context.Context, fn func(context.Context) error) error {
	if s.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
	}

	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			s.logger.Debug("retrying store call", "attempt", attempt, "delay", delay)
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}

// retryable reports whether a gRPC error is worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return true // raw network error
	}
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}

// buildFilter converts a bluebonnet.Filter to Qdrant filter conditions.
// Returns nil for a nil or empty filter.
func buildFilter(f *bluebonnet.Filter) *pb.Filter {
	if f == nil {
		return nil
	}
	var conditions []*pb.Condition
	if f.FilenameEquals != "" {
		conditions = append(conditions, keywordMatch("filename", f.FilenameEquals))
	}
	if f.FilenameContains != "" {
		conditions = append(conditions, textMatch("filename", f.FilenameContains))
	}
	if f.TextContains != "" {
		conditions = append(conditions, textMatch("text", f.TextContains))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &pb.Filter{Must: conditions}
}

func keywordMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func textMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Text{Text: value}},
			},
		},
	}
}

// pointID extracts the string form of a Qdrant point ID.
func pointID(id *pb.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *pb.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	case *pb.PointId_Uuid:
		return v.Uuid
	default:
		return ""
	}
}

// chunkFromPayload maps a Qdrant payload to a RankedChunk. The mapping
// tolerates page stored as integer or string, and falls back from "text" to
// "content" for the chunk body.
func chunkFromPayload(id string, payload map[string]*pb.Value) bluebonnet.RankedChunk {
	rc := bluebonnet.RankedChunk{Source: bluebonnet.SourceDocument}
	rc.ID = id
	rc.Page = "N/A"

	if payload == nil {
		return rc
	}

	rc.Text = payloadString(payload, "text")
	if rc.Text == "" {
		rc.Text = payloadString(payload, "content")
	}
	rc.Filename = payloadString(payload, "filename")
	rc.SourceURL = payloadString(payload, "source_url")

	if v, ok := payload["page"]; ok && v != nil {
		switch p := v.Kind.(type) {
		case *pb.Value_IntegerValue:
			rc.Page = strconv.FormatInt(p.IntegerValue, 10)
		case *pb.Value_StringValue:
			if p.StringValue != "" {
				rc.Page = p.StringValue
			}
		}
	}

	rc.HasContext = payloadBool(payload, "has_context")
	rc.MasterContext = payloadString(payload, "master_context")
	rc.DocumentContext = payloadString(payload, "document_context")
	rc.ChunkContext = payloadString(payload, "chunk_context")
	return rc
}

func payloadString(payload map[string]*pb.Value, key string) string {
	if v, ok := payload[key]; ok && v != nil {
		if s, ok := v.Kind.(*pb.Value_StringValue); ok {
			return s.StringValue
		}
	}
	return ""
}

func payloadBool(payload map[string]*pb.Value, key string) bool {
	if v, ok := payload[key]; ok && v != nil {
		if b, ok := v.Kind.(*pb.Value_BoolValue); ok {
			return b.BoolValue
		}
	}
	return false
}

// Compile-time interface check.
var _ bluebonnet.ChunkStore = (*Store)(nil)
