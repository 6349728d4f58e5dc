package bluebonnet

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const (
	reformulatorTemperature = 0.3
	summarizerTemperature   = 0.1

	// DefaultSummarizeAfterTurns is how many turns of raw history downstream
	// prompts consume before switching to a compressed summary.
	DefaultSummarizeAfterTurns = 5

	// summaryCharBudget approximates the 150-token summary cap.
	summaryCharBudget = 600
)

const reformulatorPrompt = `You rewrite follow-up questions for a Texas childcare assistance assistant so they stand alone without the conversation.

Rules:
- Resolve pronouns and references ("it", "that program", "the limit") using the conversation.
- Carry forward facts the user stated earlier (family size, income, children in care) when the new question depends on them.
- If the new question already stands alone or switches to an unrelated topic, return it unchanged.
- Do not answer the question. Return only the rewritten question inside <reformulated_query> tags.

Conversation:
%s

New question: %s

<reformulated_query>`

const summarizerPrompt = `Summarize this conversation about Texas childcare assistance in at most 150 tokens. Keep: programs discussed, the user's stated facts (family size, income, children), decisions reached, and open questions. No preamble.

Conversation:
%s`

// reformulatedRE extracts the tagged span; the closing tag is optional
// because the prompt pre-opens the tag and some models omit the close.
var reformulatedRE = regexp.MustCompile(`(?s)<reformulated_query>\s*(.*?)\s*(?:</reformulated_query>|\z)`)

// Reformulator rewrites context-dependent queries into standalone ones using
// the thread history, and compresses long histories into summaries for
// downstream prompts.
type Reformulator struct {
	provider       Provider
	summarizeAfter int
	logger         *slog.Logger
}

// ReformulatorOption configures a Reformulator.
type ReformulatorOption func(*Reformulator)

// SummarizeAfter overrides how many turns of history are passed raw before
// summarization kicks in (default 5).
func SummarizeAfter(turns int) ReformulatorOption {
	return func(r *Reformulator) { r.summarizeAfter = turns }
}

// ReformulatorLogger sets the structured logger.
func ReformulatorLogger(l *slog.Logger) ReformulatorOption {
	return func(r *Reformulator) { r.logger = l }
}

// NewReformulator creates a Reformulator backed by the given provider.
func NewReformulator(provider Provider, opts ...ReformulatorOption) *Reformulator {
	r := &Reformulator{provider: provider, summarizeAfter: DefaultSummarizeAfterTurns}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Reformulate returns the standalone form of query given the thread history.
// With at most one prior message there is nothing to resolve, so the query
// passes through. Extraction or provider failure also returns the original
// query; cancellation surfaces as an error.
func (r *Reformulator) Reformulate(ctx context.Context, query string, history []ThreadMessage) (string, error) {
	if len(history) <= 1 {
		return query, nil
	}

	prompt := fmt.Sprintf(reformulatorPrompt, formatHistory(history), query)
	resp, err := r.provider.Complete(ctx, ChatRequest{
		Messages: []ChatMessage{UserMessage(prompt)},
		Params:   TemperatureParams(reformulatorTemperature),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Warn("reformulation failed, using original query", "error", err)
		return query, nil
	}

	if out, ok := extractReformulated(resp.Content); ok {
		return out, nil
	}
	r.logger.Warn("no reformulated query in response, using original", "raw", resp.Content)
	return query, nil
}

// Summarize compresses history into a short context block for downstream
// prompts. Below the turn threshold it formats the raw history instead of
// spending an LLM call; above it, the model produces a ≤150-token summary.
// The result is derived per call and never persisted.
func (r *Reformulator) Summarize(ctx context.Context, history []ThreadMessage) (string, error) {
	if len(history) == 0 {
		return "", nil
	}
	raw := formatHistory(history)
	if len(history) <= 2*r.summarizeAfter && len(raw) <= summaryCharBudget {
		return raw, nil
	}

	resp, err := r.provider.Complete(ctx, ChatRequest{
		Messages: []ChatMessage{UserMessage(fmt.Sprintf(summarizerPrompt, raw))},
		Params:   TemperatureParams(summarizerTemperature),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Truncated raw history is a workable stand-in for a summary.
		r.logger.Warn("history summarization failed, truncating raw history", "error", err)
		return TruncateText(raw, summaryCharBudget), nil
	}
	return TruncateText(strings.TrimSpace(resp.Content), summaryCharBudget), nil
}

// extractReformulated pulls the rewritten query out of the tagged span.
func extractReformulated(response string) (string, bool) {
	// The prompt pre-opens the tag, so a bare completion is the common case.
	text := response
	if !strings.Contains(text, "<reformulated_query>") {
		text = "<reformulated_query>" + text
	}
	m := reformulatedRE.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	out := strings.TrimSpace(m[1])
	if out == "" {
		return "", false
	}
	return out, true
}

// formatHistory renders messages as "User:"/"Assistant:" lines.
func formatHistory(history []ThreadMessage) string {
	var b strings.Builder
	for _, m := range history {
		label := "User"
		if m.Role == "assistant" {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
