package bluebonnet

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

const generatorTemperature = 0.1

// FallbackAnswer is returned verbatim when retrieval produced nothing or
// generation failed after retries. It deliberately contains no facts.
const FallbackAnswer = "I'm sorry, I couldn't find information about that in the Texas childcare assistance policy documents. For help with your specific situation, please contact the Texas Workforce Commission at https://www.twc.texas.gov/programs/child-care."

// generatorSystemPrompt establishes the domain, the abbreviation glossary,
// and the citation contract. The rules here are contractual: tests assert
// the behaviors they demand.
const generatorSystemPrompt = `You are an assistant for Texas childcare assistance programs. You answer questions about Child Care Services (CCS) eligibility, parent costs, provider requirements, and related Texas Workforce Commission policy using ONLY the document excerpts provided in each request.

Glossary of abbreviations used in the documents:
- CCS: Child Care Services, the TWC childcare subsidy program
- TWC: Texas Workforce Commission
- BCY: Board Contract Year
- SMI: State Median Income
- PSoC: Parent Share of Cost, the family's monthly copayment
- TRS: Texas Rising Star, the provider quality rating system
- CCR: Child Care Regulation, the HHSC licensing authority
- LWDB: Local Workforce Development Board (also called "the Board")
- FPG: Federal Poverty Guidelines

Rules:
1. Answer ONLY from the provided document excerpts. If the information is not in them, say "I don't have information on that" and suggest contacting TWC.
2. Cite at least one [Doc N] marker for every specific dollar amount, date, percentage, or program name you state.
3. Never invent numbers, dates, or rules that are not in the excerpts.
4. For application or enrollment processes, lay the steps out as an ordered list.
5. For table lookups (income limits, cost charts), name the row and column you used, for example "family of 3 at 45% SMI", before giving the value.
6. Keep answers concise and in plain language parents can follow.`

// citationRE matches [Doc N] markers in generated answers.
var citationRE = regexp.MustCompile(`\[Doc (\d+)\]`)

// GenerateResult is the outcome of one generation call.
type GenerateResult struct {
	Answer  string
	Sources []CitedSource
	Usage   Usage
	// FellBack is set when the fixed fallback answer was returned
	// (empty retrieval or provider failure).
	FellBack bool
}

// Generator produces the final cited answer from reranked chunks.
type Generator struct {
	provider Provider
	logger   *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// GeneratorLogger sets the structured logger for generation failures.
func GeneratorLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a Generator backed by the given provider.
func NewGenerator(provider Provider, opts ...GeneratorOption) *Generator {
	g := &Generator{provider: provider}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = nopLogger
	}
	return g
}

// Generate answers the query from the given chunks. conversationContext is a
// compressed summary of the thread ("" outside conversational mode). With no
// chunks, or when the provider fails after its retries, the fixed fallback
// answer is returned with empty sources; cancellation surfaces as an error.
func (g *Generator) Generate(ctx context.Context, query string, chunks []RankedChunk, conversationContext string) (GenerateResult, error) {
	if len(chunks) == 0 {
		return GenerateResult{Answer: FallbackAnswer, Sources: []CitedSource{}, FellBack: true}, nil
	}

	resp, err := g.provider.Complete(ctx, ChatRequest{
		Messages: []ChatMessage{
			SystemMessage(generatorSystemPrompt),
			UserMessage(buildGeneratorPrompt(query, chunks, conversationContext)),
		},
		Params: TemperatureParams(generatorTemperature),
	})
	if err != nil {
		if ctx.Err() != nil {
			return GenerateResult{}, ctx.Err()
		}
		g.logger.Warn("generation failed, returning fallback answer", "error", err)
		return GenerateResult{Answer: FallbackAnswer, Sources: []CitedSource{}, FellBack: true}, nil
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		g.logger.Warn("generation returned empty answer, returning fallback")
		return GenerateResult{Answer: FallbackAnswer, Sources: []CitedSource{}, Usage: resp.Usage, FellBack: true}, nil
	}

	return GenerateResult{
		Answer:  answer,
		Sources: ExtractCitedSources(answer, chunks),
		Usage:   resp.Usage,
	}, nil
}

// buildGeneratorPrompt renders the user turn: numbered excerpts, optional
// conversation context, then the question.
func buildGeneratorPrompt(query string, chunks []RankedChunk, conversationContext string) string {
	var b strings.Builder
	b.WriteString("Document excerpts:\n\n")
	for i, c := range chunks {
		b.WriteString(FormatChunk(i+1, c.Chunk))
		b.WriteString("\n\n")
	}
	if conversationContext != "" {
		fmt.Fprintf(&b, "Conversation context:\n%s\n\nStay consistent with your prior answers in this conversation.\n\n", conversationContext)
	}
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

// ExtractCitedSources parses [Doc k] markers out of an answer and returns a
// CitedSource for each unique in-range k, in first-mention order. Markers
// outside 1..len(chunks) are dropped; uncited chunks yield no source.
func ExtractCitedSources(answer string, chunks []RankedChunk) []CitedSource {
	matches := citationRE.FindAllStringSubmatch(answer, -1)
	seen := make(map[int]bool, len(matches))
	sources := make([]CitedSource, 0, len(matches))
	for _, m := range matches {
		k, err := strconv.Atoi(m[1])
		if err != nil || k < 1 || k > len(chunks) || seen[k] {
			continue
		}
		seen[k] = true
		c := chunks[k-1]
		sources = append(sources, CitedSource{
			Doc:      k,
			Filename: c.Filename,
			Page:     c.Page,
			URL:      c.SourceURL,
		})
	}
	return sources
}
