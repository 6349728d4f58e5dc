package bluebonnet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// rerankTruncateChars caps each chunk's text in the batched judge prompt so
// a full candidate set fits one request.
const rerankTruncateChars = 300

const rerankTemperature = 0.1

const rerankPromptHeader = `You are a relevance judge for a Texas childcare assistance policy assistant.

Score how relevant each chunk is to the query on an integer scale 0-10
(0 = unrelated, 10 = directly answers the query).`

const rerankSchemaReminder = `Your previous reply could not be parsed. Respond with ONLY a JSON object mapping every chunk key to an integer score 0-10, for example {"chunk_0": 7, "chunk_1": 2}. No prose, no code fences.`

// RerankResult carries the judged chunks plus failure metadata the pipeline
// records in debug info.
type RerankResult struct {
	Chunks []RankedChunk
	// FellBack is set when the judge response could not be parsed after the
	// schema-reminder retry (or the provider failed); Chunks then preserve
	// retrieval order with zeroed rerank scores.
	FellBack bool
	// Raw is the judge response that failed to parse, empty otherwise.
	Raw string
}

// LLMReranker scores query-chunk relevance with a single batched LLM call:
// chunks are numbered CHUNK 0..m-1 and the judge returns a JSON object
// mapping "chunk_i" to an integer 0-10, normalized to [0,1]. Missing keys
// score 0; extra keys are ignored. The pipeline never blocks on the judge —
// on unrecoverable parse or provider failure the retrieval order passes
// through unchanged.
type LLMReranker struct {
	provider Provider
	truncate int
	logger   *slog.Logger
}

// RerankerOption configures an LLMReranker.
type RerankerOption func(*LLMReranker)

// RerankerTruncate overrides the per-chunk text cap in the judge prompt.
func RerankerTruncate(n int) RerankerOption {
	return func(r *LLMReranker) { r.truncate = n }
}

// RerankerLogger sets the structured logger for judge failures.
func RerankerLogger(l *slog.Logger) RerankerOption {
	return func(r *LLMReranker) { r.logger = l }
}

// NewLLMReranker creates a reranker backed by the given judge provider.
func NewLLMReranker(provider Provider, opts ...RerankerOption) *LLMReranker {
	r := &LLMReranker{provider: provider, truncate: rerankTruncateChars}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Rerank returns the top n chunks by judge score, descending. Ties keep the
// original retrieval order.
func (r *LLMReranker) Rerank(ctx context.Context, query string, chunks []RankedChunk, n int) (RerankResult, error) {
	return r.rerank(ctx, query, "", chunks, n)
}

// RerankConversational additionally shows the judge a compressed summary of
// the conversation so follow-up queries disambiguate correctly. The response
// schema is unchanged.
func (r *LLMReranker) RerankConversational(ctx context.Context, query, conversationSummary string, chunks []RankedChunk, n int) (RerankResult, error) {
	return r.rerank(ctx, query, conversationSummary, chunks, n)
}

func (r *LLMReranker) rerank(ctx context.Context, query, summary string, chunks []RankedChunk, n int) (RerankResult, error) {
	if len(chunks) == 0 {
		return RerankResult{Chunks: []RankedChunk{}}, nil
	}

	prompt := r.buildPrompt(query, summary, chunks)
	scores, raw, err := r.judge(ctx, prompt, len(chunks))
	if err != nil {
		if ctx.Err() != nil {
			return RerankResult{}, ctx.Err()
		}
		r.logger.Warn("rerank judge failed, falling back to retrieval order", "error", err)
		return RerankResult{Chunks: identityRerank(chunks, n), FellBack: true, Raw: raw}, nil
	}

	out := make([]RankedChunk, len(chunks))
	copy(out, chunks)
	for i := range out {
		s, ok := scores[fmt.Sprintf("chunk_%d", i)]
		if !ok {
			s = 0 // missing key scores zero
		}
		out[i].RerankScore = clampScore(s) / 10.0
	}

	// Stable sort keeps retrieval order for equal judge scores.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})
	return RerankResult{Chunks: trimChunks(out, n)}, nil
}

// judge sends the batched prompt, retrying once with a schema reminder when
// the response does not parse. Returns the parsed score map or the error
// plus the last raw response.
func (r *LLMReranker) judge(ctx context.Context, prompt string, m int) (map[string]float64, string, error) {
	messages := []ChatMessage{UserMessage(prompt)}
	req := ChatRequest{
		Messages:       messages,
		ResponseSchema: rerankSchema(m),
		Params:         TemperatureParams(rerankTemperature),
	}

	resp, err := r.provider.Complete(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("judge call: %w", err)
	}
	scores, perr := parseChunkScores(resp.Content)
	if perr == nil {
		return scores, resp.Content, nil
	}

	// One repair round: show the model its reply and restate the schema.
	req.Messages = append(messages,
		AssistantMessage(resp.Content),
		UserMessage(rerankSchemaReminder),
	)
	resp2, err := r.provider.Complete(ctx, req)
	if err != nil {
		return nil, resp.Content, fmt.Errorf("judge retry: %w", err)
	}
	scores, perr = parseChunkScores(resp2.Content)
	if perr != nil {
		return nil, resp2.Content, &ErrParse{Component: "reranker", Raw: resp2.Content, Err: perr}
	}
	return scores, resp2.Content, nil
}

func (r *LLMReranker) buildPrompt(query, summary string, chunks []RankedChunk) string {
	var b strings.Builder
	b.WriteString(rerankPromptHeader)
	b.WriteString("\n\n")
	if summary != "" {
		fmt.Fprintf(&b, "Conversation so far (summary): %s\nConsider the summary when the query depends on earlier turns.\n\n", summary)
	}
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	for i, c := range chunks {
		fmt.Fprintf(&b, "CHUNK %d:\n%s\n\n", i, TruncateText(c.Text, r.truncate))
	}
	fmt.Fprintf(&b, "Respond with a JSON object mapping every chunk to its score:\n{\"chunk_0\": 7, \"chunk_1\": 0, ...}")
	return b.String()
}

// rerankSchema builds the per-call JSON Schema: one required integer
// property per chunk key.
func rerankSchema(m int) *ResponseSchema {
	props := make(map[string]any, m)
	required := make([]string, m)
	for i := 0; i < m; i++ {
		key := fmt.Sprintf("chunk_%d", i)
		props[key] = map[string]any{"type": "integer", "minimum": 0, "maximum": 10}
		required[i] = key
	}
	schema, _ := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	})
	return &ResponseSchema{Name: "chunk_scores", Schema: schema}
}

// parseChunkScores extracts the score object from a judge reply, tolerating
// code fences and surrounding prose.
func parseChunkScores(response string) (map[string]float64, error) {
	obj, ok := extractJSONObject(response)
	if !ok {
		return nil, fmt.Errorf("no JSON object found")
	}
	var scores map[string]float64
	if err := json.Unmarshal([]byte(obj), &scores); err != nil {
		return nil, err
	}
	return scores, nil
}

// extractJSONObject returns the outermost {...} span of s, stripping
// markdown code fences first.
func extractJSONObject(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	start := strings.Index(trimmed, "{")
	if start == -1 {
		return "", false
	}
	end := strings.LastIndex(trimmed, "}")
	if end == -1 || end < start {
		return "", false
	}
	return trimmed[start : end+1], true
}

// identityRerank preserves retrieval order and zeroes judge scores, so the
// web-fallback sufficiency check sees no false confidence.
func identityRerank(chunks []RankedChunk, n int) []RankedChunk {
	out := make([]RankedChunk, len(chunks))
	copy(out, chunks)
	for i := range out {
		out[i].RerankScore = 0
	}
	return trimChunks(out, n)
}

func trimChunks(chunks []RankedChunk, n int) []RankedChunk {
	if n > 0 && len(chunks) > n {
		return chunks[:n]
	}
	return chunks
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}
