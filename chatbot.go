package bluebonnet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Default candidate-set sizes for the two ranked stages.
const (
	DefaultRetrievalTopK = 10
	DefaultRerankTopK    = 5
)

// Request is one question for the pipeline.
type Request struct {
	// Question is the user's query. Required, non-empty.
	Question string
	// ThreadID scopes conversational memory. Empty in conversational mode
	// means a fresh thread (a new ID is minted and returned).
	ThreadID string
	// Mode overrides the configured retrieval mode for this request.
	Mode RetrievalMode
	// Debug enables per-node timing records in the response.
	Debug bool

	// Per-request provider overrides, already resolved by the caller.
	// Nil fields use the chatbot's configured providers.
	Generator Provider
	Reranker  Provider
	Intent    Provider
}

// Response is the pipeline's answer.
type Response struct {
	Answer       string
	Sources      []CitedSource
	ResponseType Intent
	ThreadID     string

	// Conversational mode only.
	ReformulatedQuery string
	TurnCount         int

	Debug []DebugRecord
}

// Chatbot is the assembled retrieval-and-answer pipeline. Construct with
// New; safe for concurrent use.
type Chatbot struct {
	retrievers    map[RetrievalMode]Retriever
	defaultMode   RetrievalMode
	reranker      *LLMReranker
	generator     *Generator
	classifier    *IntentClassifier
	reformulator  *Reformulator
	conversations ConversationStore
	webFallback   *WebFallback

	retrievalTopK  int
	rerankTopK     int
	conversational bool
	historyTurns   int
	logger         *slog.Logger
	metrics        PipelineMetrics
}

// Option configures a Chatbot.
type Option func(*Chatbot)

// WithRetriever registers the retrieval strategy for a mode. At least the
// default mode must be registered.
func WithRetriever(mode RetrievalMode, r Retriever) Option {
	return func(c *Chatbot) { c.retrievers[mode] = r }
}

// WithDefaultMode sets the retrieval mode used when a request names none
// (default: hybrid).
func WithDefaultMode(mode RetrievalMode) Option {
	return func(c *Chatbot) { c.defaultMode = mode }
}

// WithReranker sets the LLM judge.
func WithReranker(r *LLMReranker) Option {
	return func(c *Chatbot) { c.reranker = r }
}

// WithGenerator sets the answer generator.
func WithGenerator(g *Generator) Option {
	return func(c *Chatbot) { c.generator = g }
}

// WithClassifier sets the intent classifier.
func WithClassifier(cl *IntentClassifier) Option {
	return func(c *Chatbot) { c.classifier = cl }
}

// WithConversation enables conversational mode: queries are reformulated
// against the thread history kept in store, and each handled request appends
// the user query and the answer to the thread.
func WithConversation(store ConversationStore, r *Reformulator) Option {
	return func(c *Chatbot) {
		c.conversations = store
		c.reformulator = r
		c.conversational = true
	}
}

// WithWebFallback enables the hybrid path: information queries whose vector
// results fail the sufficiency check are supplemented with web search.
func WithWebFallback(w *WebFallback) Option {
	return func(c *Chatbot) { c.webFallback = w }
}

// WithTopK overrides the retrieval and rerank candidate-set sizes.
func WithTopK(retrieval, rerank int) Option {
	return func(c *Chatbot) {
		c.retrievalTopK = retrieval
		c.rerankTopK = rerank
	}
}

// WithHistoryTurns caps how many prior turns feed reformulation (default 5).
func WithHistoryTurns(n int) Option {
	return func(c *Chatbot) { c.historyTurns = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chatbot) { c.logger = l }
}

// WithMetrics wires pipeline measurements (request counts, node durations,
// retrieval sizes, rerank scores) to a recorder such as the observer
// package's Instruments.
func WithMetrics(m PipelineMetrics) Option {
	return func(c *Chatbot) { c.metrics = m }
}

// New assembles a Chatbot and validates the configuration: a retriever for
// the default mode, a reranker, a generator, and a classifier are required.
func New(opts ...Option) (*Chatbot, error) {
	c := &Chatbot{
		retrievers:    make(map[RetrievalMode]Retriever),
		defaultMode:   ModeHybrid,
		retrievalTopK: DefaultRetrievalTopK,
		rerankTopK:    DefaultRerankTopK,
		historyTurns:  DefaultSummarizeAfterTurns,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}

	var missing []string
	if _, ok := c.retrievers[c.defaultMode]; !ok {
		missing = append(missing, fmt.Sprintf("retriever for default mode %q", c.defaultMode))
	}
	if c.reranker == nil {
		missing = append(missing, "reranker")
	}
	if c.generator == nil {
		missing = append(missing, "generator")
	}
	if c.classifier == nil {
		missing = append(missing, "classifier")
	}
	if c.conversational && c.conversations == nil {
		missing = append(missing, "conversation store")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("chatbot: missing %s", strings.Join(missing, ", "))
	}
	return c, nil
}

// Conversational reports whether conversational mode is enabled.
func (c *Chatbot) Conversational() bool { return c.conversational }

// Ask runs the full pipeline for one request. The context's deadline bounds
// every store and provider call; on deadline the request fails with no
// partial answer.
func (c *Chatbot) Ask(ctx context.Context, req Request) (Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Response{}, &ErrInvalidArgument{Field: "question", Reason: "must not be empty"}
	}

	mode := req.Mode
	if mode == "" {
		mode = c.defaultMode
	}
	retriever, ok := c.retrievers[mode]
	if !ok {
		return Response{}, &ErrInvalidArgument{
			Field:  "retrieval_mode",
			Reason: fmt.Sprintf("no retriever configured for mode %q", mode),
		}
	}

	threadID := req.ThreadID
	if c.conversational && threadID == "" {
		threadID = NewID()
	}

	state := &State{
		Query:    question,
		ThreadID: threadID,
		Debug:    req.Debug,
	}
	if c.conversational {
		history, err := c.conversations.Recent(ctx, threadID, c.historyTurns)
		if err != nil {
			return Response{}, &ErrUpstream{Component: "conversation store", Err: err}
		}
		state.Messages = history
	}

	graph, err := c.buildGraph(mode, retriever, c.components(req))
	if err != nil {
		return Response{}, err
	}
	start := time.Now()
	runErr := graph.Run(ctx, state)
	if c.metrics != nil {
		c.metrics.RecordRequest(ctx, state.ResponseType, runErr, time.Since(start), state.DebugInfo)
	}
	if runErr != nil {
		return Response{}, runErr
	}

	resp := Response{
		Answer:       state.Answer,
		Sources:      state.Sources,
		ResponseType: state.ResponseType,
		ThreadID:     threadID,
		Debug:        state.DebugInfo,
	}

	if c.conversational {
		if state.ReformulatedQuery != state.Query {
			resp.ReformulatedQuery = state.ReformulatedQuery
		}
		// Record the turn: the user's original query, then the exact answer.
		if err := c.conversations.Append(ctx, threadID, "user", question); err != nil {
			return Response{}, &ErrUpstream{Component: "conversation store", Err: err}
		}
		if err := c.conversations.Append(ctx, threadID, "assistant", state.Answer); err != nil {
			return Response{}, &ErrUpstream{Component: "conversation store", Err: err}
		}
		thread, err := c.conversations.GetOrCreate(ctx, threadID)
		if err != nil {
			return Response{}, &ErrUpstream{Component: "conversation store", Err: err}
		}
		resp.TurnCount = thread.TurnCount()
	}
	return resp, nil
}

// Reset clears the conversation history for a thread.
func (c *Chatbot) Reset(ctx context.Context, threadID string) error {
	if !c.conversational {
		return nil
	}
	return c.conversations.Reset(ctx, threadID)
}

// components resolves the per-request provider overrides into pipeline parts.
type pipelineParts struct {
	reranker   *LLMReranker
	generator  *Generator
	classifier *IntentClassifier
}

func (c *Chatbot) components(req Request) pipelineParts {
	p := pipelineParts{
		reranker:   c.reranker,
		generator:  c.generator,
		classifier: c.classifier,
	}
	if req.Reranker != nil {
		p.reranker = NewLLMReranker(req.Reranker, RerankerLogger(c.logger))
	}
	if req.Generator != nil {
		p.generator = NewGenerator(req.Generator, GeneratorLogger(c.logger))
	}
	if req.Intent != nil {
		p.classifier = NewIntentClassifier(req.Intent, ClassifierLogger(c.logger))
	}
	return p
}

// buildGraph wires the pipeline for one request:
//
//	START → (reformulate?) → classify ─┬─> retrieve → rerank → generate → END
//	                                   ├─> location → END
//	                                   └─> hybrid → END
func (c *Chatbot) buildGraph(mode RetrievalMode, retriever Retriever, parts pipelineParts) (*Graph, error) {
	g := NewGraph(GraphLogger(c.logger))

	nodes := map[string]NodeFunc{
		"reformulate": c.reformulateNode(),
		"classify":    c.classifyNode(parts),
		"retrieve":    c.retrieveNode(mode, retriever),
		"rerank":      c.rerankNode(parts),
		"generate":    c.generateNode(parts),
		"location":    c.locationNode(),
		"hybrid":      c.hybridNode(mode, retriever, parts),
	}
	for name, fn := range nodes {
		if err := g.AddNode(name, fn); err != nil {
			return nil, err
		}
	}

	edges := [][2]string{
		{"reformulate", "classify"},
		{"retrieve", "rerank"},
		{"rerank", "generate"},
		{"generate", End},
		{"location", End},
		{"hybrid", End},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	route := func(s *State) string {
		if s.Intent == IntentLocation {
			return "location"
		}
		if c.webFallback != nil {
			return "hybrid"
		}
		return "retrieve"
	}
	if err := g.AddConditionalEdge("classify", route); err != nil {
		return nil, err
	}

	entry := "classify"
	if c.conversational {
		entry = "reformulate"
	}
	if err := g.SetEntry(entry); err != nil {
		return nil, err
	}
	return g, nil
}

// --- Nodes ---

func (c *Chatbot) reformulateNode() NodeFunc {
	return func(ctx context.Context, s *State) (*Patch, error) {
		standalone, err := c.reformulator.Reformulate(ctx, s.Query, s.Messages)
		if err != nil {
			return nil, err
		}
		summary, err := c.reformulator.Summarize(ctx, s.Messages)
		if err != nil {
			return nil, err
		}
		return &Patch{
			ReformulatedQuery:   strPtr(standalone),
			ConversationSummary: strPtr(summary),
		}, nil
	}
}

func (c *Chatbot) classifyNode(parts pipelineParts) NodeFunc {
	return func(ctx context.Context, s *State) (*Patch, error) {
		intent, err := parts.classifier.Classify(ctx, s.EffectiveQuery())
		if err != nil {
			return nil, err
		}
		return &Patch{Intent: intentPtr(intent)}, nil
	}
}

func (c *Chatbot) retrieveNode(mode RetrievalMode, retriever Retriever) NodeFunc {
	return func(ctx context.Context, s *State) (*Patch, error) {
		chunks, err := retriever.Search(ctx, s.EffectiveQuery(), c.retrievalTopK)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &ErrUpstream{Component: "store", Err: err}
		}
		if c.metrics != nil {
			c.metrics.RecordRetrieval(ctx, string(mode), SourceDocument, len(chunks))
		}
		return &Patch{
			RetrievedChunks: chunks,
			ResponseType:    intentPtr(IntentInformation),
		}, nil
	}
}

func (c *Chatbot) rerankNode(parts pipelineParts) NodeFunc {
	return func(ctx context.Context, s *State) (*Patch, error) {
		res, err := parts.reranker.RerankConversational(ctx, s.EffectiveQuery(), s.ConversationSummary, s.RetrievedChunks, c.rerankTopK)
		if err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.RecordRerankScores(ctx, res.Chunks)
		}
		patch := &Patch{RerankedChunks: res.Chunks}
		if res.FellBack {
			patch.DebugNote = "rerank fell back to retrieval order"
		}
		return patch, nil
	}
}

func (c *Chatbot) generateNode(parts pipelineParts) NodeFunc {
	return func(ctx context.Context, s *State) (*Patch, error) {
		res, err := parts.generator.Generate(ctx, s.EffectiveQuery(), s.RerankedChunks, s.ConversationSummary)
		if err != nil {
			return nil, err
		}
		patch := &Patch{
			Answer:  strPtr(res.Answer),
			Sources: res.Sources,
		}
		if res.FellBack {
			patch.DebugNote = "generator returned the fixed fallback answer"
		}
		return patch, nil
	}
}

func (c *Chatbot) locationNode() NodeFunc {
	return func(_ context.Context, _ *State) (*Patch, error) {
		return locationPatch(), nil
	}
}

// hybridNode runs the full information path with the web-fallback gate:
// retrieve → rerank → sufficiency check → (web merge + joint rerank)? →
// generate. It is one node because the web decision needs the reranked
// vector set and its output feeds generation directly.
func (c *Chatbot) hybridNode(mode RetrievalMode, retriever Retriever, parts pipelineParts) NodeFunc {
	return func(ctx context.Context, s *State) (*Patch, error) {
		query := s.EffectiveQuery()

		chunks, err := retriever.Search(ctx, query, c.retrievalTopK)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &ErrUpstream{Component: "store", Err: err}
		}
		if c.metrics != nil {
			c.metrics.RecordRetrieval(ctx, string(mode), SourceDocument, len(chunks))
		}

		ranked, err := parts.reranker.RerankConversational(ctx, query, s.ConversationSummary, chunks, c.rerankTopK)
		if err != nil {
			return nil, err
		}

		fb, err := c.webFallback.Supplement(ctx, query, s.ConversationSummary, len(chunks), ranked.Chunks, c.rerankTopK)
		if err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.RecordRerankScores(ctx, fb.Chunks)
			if fb.UsedWeb {
				c.metrics.RecordRetrieval(ctx, string(mode), SourceWeb, webChunkCount(fb.Chunks))
			}
		}

		gen, err := parts.generator.Generate(ctx, query, fb.Chunks, s.ConversationSummary)
		if err != nil {
			return nil, err
		}

		responseType := IntentInformation
		if fb.UsedWeb {
			responseType = IntentWebFallback
		}
		patch := &Patch{
			RetrievedChunks: chunks,
			RerankedChunks:  fb.Chunks,
			Answer:          strPtr(gen.Answer),
			Sources:         gen.Sources,
			ResponseType:    intentPtr(responseType),
		}
		if fb.UsedWeb {
			patch.DebugNote = "supplemented with web results"
		}
		return patch, nil
	}
}

// webChunkCount counts the web-sourced chunks kept in the final set.
func webChunkCount(chunks []RankedChunk) int {
	n := 0
	for _, c := range chunks {
		if c.Source == SourceWeb {
			n++
		}
	}
	return n
}
