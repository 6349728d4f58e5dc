package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

const judgeTemperature = 0.1

const judgePromptHeader = `You are grading an answer from a Texas childcare assistance policy assistant against a reference answer.

Score the generated answer on these criteria:
- accuracy (0-5): factual agreement with the reference answer
- completeness (0-5): coverage of the points the reference answer makes
- citation_quality (0-5): whether specific claims carry [Doc N] citations backed by the listed sources
- coherence (0-3): clarity and organization

Be strict: an answer that contradicts the reference on any number, date, or rule scores at most 2 on accuracy.`

const judgeSchemaReminder = `Your previous reply could not be parsed. Respond with ONLY a JSON object like {"accuracy": 4, "completeness": 3, "citation_quality": 5, "coherence": 3, "feedback": "..."}. No prose, no code fences.`

var judgeSchema = &bluebonnet.ResponseSchema{
	Name: "judge_scores",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"accuracy": {"type": "integer", "minimum": 0, "maximum": 5},
			"completeness": {"type": "integer", "minimum": 0, "maximum": 5},
			"citation_quality": {"type": "integer", "minimum": 0, "maximum": 5},
			"coherence": {"type": "integer", "minimum": 0, "maximum": 3},
			"feedback": {"type": "string"}
		},
		"required": ["accuracy", "completeness", "citation_quality", "coherence"],
		"additionalProperties": false
	}`),
}

// Scores holds the judge's per-criterion grades.
type Scores struct {
	Accuracy          float64 `json:"accuracy"`
	Completeness      float64 `json:"completeness"`
	CitationQuality   float64 `json:"citation_quality"`
	Coherence         float64 `json:"coherence"`
	ContextResolution float64 `json:"context_resolution,omitempty"`
	Feedback          string  `json:"feedback,omitempty"`
}

// Judge grades generated answers with an LLM.
type Judge struct {
	provider  bluebonnet.Provider
	citations bool
	logger    *slog.Logger
}

// JudgeOption configures a Judge.
type JudgeOption func(*Judge)

// JudgeLogger sets the structured logger.
func JudgeLogger(l *slog.Logger) JudgeOption {
	return func(j *Judge) { j.logger = l }
}

// WithoutCitationScoring drops the citation criterion from the composite;
// the remaining weights are rescaled to keep their ratios.
func WithoutCitationScoring() JudgeOption {
	return func(j *Judge) { j.citations = false }
}

// NewJudge creates a judge with citation scoring enabled.
func NewJudge(provider bluebonnet.Provider, opts ...JudgeOption) *Judge {
	j := &Judge{provider: provider, citations: true}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = nopLogger
	}
	return j
}

// CitationScoring reports whether the citation criterion is active.
func (j *Judge) CitationScoring() bool { return j.citations }

// Score grades one answer against its reference. JSON mode with one
// schema-reminder retry; a second parse failure surfaces as ErrParse.
func (j *Judge) Score(ctx context.Context, question, reference, answer string, sources []bluebonnet.CitedSource) (Scores, error) {
	prompt := j.buildPrompt(question, reference, answer, sources)
	messages := []bluebonnet.ChatMessage{bluebonnet.UserMessage(prompt)}
	req := bluebonnet.ChatRequest{
		Messages:       messages,
		ResponseSchema: judgeSchema,
		Params:         bluebonnet.TemperatureParams(judgeTemperature),
	}

	resp, err := j.provider.Complete(ctx, req)
	if err != nil {
		return Scores{}, &bluebonnet.ErrUpstream{Component: "llm", Err: err}
	}
	if s, perr := parseScores(resp.Content); perr == nil {
		return s, nil
	}

	req.Messages = append(messages,
		bluebonnet.AssistantMessage(resp.Content),
		bluebonnet.UserMessage(judgeSchemaReminder),
	)
	resp, err = j.provider.Complete(ctx, req)
	if err != nil {
		return Scores{}, &bluebonnet.ErrUpstream{Component: "llm", Err: err}
	}
	s, perr := parseScores(resp.Content)
	if perr != nil {
		return Scores{}, &bluebonnet.ErrParse{Component: "judge", Raw: resp.Content, Err: perr}
	}
	return s, nil
}

func (j *Judge) buildPrompt(question, reference, answer string, sources []bluebonnet.CitedSource) string {
	var b strings.Builder
	b.WriteString(judgePromptHeader)
	fmt.Fprintf(&b, "\n\nQuestion: %s\n\nReference answer:\n%s\n\nGenerated answer:\n%s\n", question, reference, answer)
	if len(sources) > 0 {
		b.WriteString("\nCited sources:\n")
		for _, s := range sources {
			fmt.Fprintf(&b, "- [Doc %d] %s, page %s\n", s.Doc, s.Filename, s.Page)
		}
	}
	b.WriteString("\nRespond with a JSON object: {\"accuracy\": 0-5, \"completeness\": 0-5, \"citation_quality\": 0-5, \"coherence\": 0-3, \"feedback\": \"one sentence\"}")
	return b.String()
}

// Composite folds the per-criterion scores into [0,100]:
// 50·acc/5 + 30·comp/5 + 10·cit/5 + 10·coh/3. With citation scoring off the
// citation term is dropped and the remainder divided by 0.9, preserving the
// other criteria's relative weights.
func (j *Judge) Composite(s Scores) float64 {
	base := 50*clamp(s.Accuracy, 5)/5 + 30*clamp(s.Completeness, 5)/5 + 10*clamp(s.Coherence, 3)/3
	if !j.citations {
		return base / 0.9
	}
	return base + 10*clamp(s.CitationQuality, 5)/5
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func parseScores(response string) (Scores, error) {
	obj, ok := extractJSONObject(response)
	if !ok {
		return Scores{}, fmt.Errorf("no JSON object found")
	}
	var s Scores
	if err := json.Unmarshal([]byte(obj), &s); err != nil {
		return Scores{}, err
	}
	return s, nil
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
