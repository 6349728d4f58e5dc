package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

// Script is a multi-turn evaluation conversation.
type Script struct {
	Name  string       `yaml:"name"`
	Turns []ScriptTurn `yaml:"turns"`
}

// ScriptTurn is one scripted question with its expectations.
type ScriptTurn struct {
	Question        string   `yaml:"question"`
	ExpectedTopics  []string `yaml:"expected_topics"`
	MustContain     []string `yaml:"must_contain"`
	RequiresContext bool     `yaml:"requires_context"`
}

// LoadScripts reads one YAML file holding a list of conversation scripts.
func LoadScripts(path string) ([]Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var scripts []Script
	if err := yaml.Unmarshal(data, &scripts); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, s := range scripts {
		if s.Name == "" {
			return nil, fmt.Errorf("%s: script %d has no name", path, i)
		}
		if len(s.Turns) == 0 {
			return nil, fmt.Errorf("%s: script %q has no turns", path, s.Name)
		}
		for j, t := range s.Turns {
			if strings.TrimSpace(t.Question) == "" {
				return nil, fmt.Errorf("%s: script %q turn %d has no question", path, s.Name, j+1)
			}
		}
	}
	return scripts, nil
}

// TurnResult grades one turn of a conversation.
type TurnResult struct {
	Turn              int      `json:"turn"`
	Question          string   `json:"question"`
	ReformulatedQuery string   `json:"reformulated_query,omitempty"`
	Answer            string   `json:"answer"`
	Score             float64  `json:"score"`
	ContextResolution float64  `json:"context_resolution"`
	MissingStrings    []string `json:"missing_strings,omitempty"`
	Passed            bool     `json:"passed"`
}

// ConversationResult aggregates one script.
type ConversationResult struct {
	Script                string       `json:"script"`
	Turns                 []TurnResult `json:"turns"`
	AverageScore          float64      `json:"average_score"`
	ContextResolutionRate float64      `json:"context_resolution_rate"`
	AllTurnsPassed        bool         `json:"all_turns_passed"`
}

const conversationalJudgePrompt = `You are grading one turn of a multi-turn conversation with a Texas childcare assistance policy assistant.

Score:
- quality (0-100): how well the answer addresses the question%s
- context_resolution (0-5): whether the answer (and the reformulated query, if shown) correctly resolved pronouns and references to earlier turns. Score 5 when no context was needed and the answer is self-contained.

Conversation topic hints: %s

Question: %s
%s
Answer:
%s

Respond with a JSON object: {"quality": 0-100, "context_resolution": 0-5, "feedback": "one sentence"}`

var conversationalJudgeSchema = &bluebonnet.ResponseSchema{
	Name: "turn_scores",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"quality": {"type": "integer", "minimum": 0, "maximum": 100},
			"context_resolution": {"type": "integer", "minimum": 0, "maximum": 5},
			"feedback": {"type": "string"}
		},
		"required": ["quality", "context_resolution"],
		"additionalProperties": false
	}`),
}

// RunConversational plays each script through the chatbot on a fresh thread
// and judges every turn. Turns with RequiresContext count toward the
// context-resolution rate when they score at least 3/5.
func (r *Runner) RunConversational(ctx context.Context, scripts []Script) ([]ConversationResult, error) {
	out := make([]ConversationResult, 0, len(scripts))
	for _, script := range scripts {
		res, err := r.runScript(ctx, script)
		if err != nil {
			return nil, fmt.Errorf("script %q: %w", script.Name, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *Runner) runScript(ctx context.Context, script Script) (ConversationResult, error) {
	result := ConversationResult{Script: script.Name, AllTurnsPassed: true}
	threadID := bluebonnet.NewID()

	contextTurns, contextResolved := 0, 0
	for i, turn := range script.Turns {
		resp, err := r.bot.Ask(ctx, bluebonnet.Request{
			Question: turn.Question,
			ThreadID: threadID,
			Mode:     r.mode,
		})
		if err != nil {
			return ConversationResult{}, fmt.Errorf("turn %d: %w", i+1, err)
		}

		tr := TurnResult{
			Turn:              i + 1,
			Question:          turn.Question,
			ReformulatedQuery: resp.ReformulatedQuery,
			Answer:            resp.Answer,
			Passed:            true,
		}
		for _, want := range turn.MustContain {
			if !strings.Contains(strings.ToLower(resp.Answer), strings.ToLower(want)) {
				tr.MissingStrings = append(tr.MissingStrings, want)
				tr.Passed = false
			}
		}

		quality, resolution, err := r.judgeTurn(ctx, turn, resp)
		if err != nil {
			return ConversationResult{}, fmt.Errorf("turn %d: %w", i+1, err)
		}
		tr.Score = quality
		tr.ContextResolution = resolution
		if quality < r.threshold {
			tr.Passed = false
		}

		if turn.RequiresContext {
			contextTurns++
			if resolution >= 3 {
				contextResolved++
			}
		}
		if !tr.Passed {
			result.AllTurnsPassed = false
		}
		result.AverageScore += quality
		result.Turns = append(result.Turns, tr)
	}

	result.AverageScore /= float64(len(script.Turns))
	if contextTurns > 0 {
		result.ContextResolutionRate = float64(contextResolved) / float64(contextTurns)
	} else {
		result.ContextResolutionRate = 1
	}
	return result, nil
}

func (r *Runner) judgeTurn(ctx context.Context, turn ScriptTurn, resp bluebonnet.Response) (quality, resolution float64, err error) {
	reformulated := ""
	if resp.ReformulatedQuery != "" {
		reformulated = fmt.Sprintf("Reformulated query: %s\n", resp.ReformulatedQuery)
	}
	contextNote := ""
	if turn.RequiresContext {
		contextNote = " (this turn depends on earlier turns)"
	}
	prompt := fmt.Sprintf(conversationalJudgePrompt,
		contextNote,
		strings.Join(turn.ExpectedTopics, ", "),
		turn.Question,
		reformulated,
		resp.Answer,
	)

	messages := []bluebonnet.ChatMessage{bluebonnet.UserMessage(prompt)}
	req := bluebonnet.ChatRequest{
		Messages:       messages,
		ResponseSchema: conversationalJudgeSchema,
		Params:         bluebonnet.TemperatureParams(judgeTemperature),
	}
	reply, err := r.judge.provider.Complete(ctx, req)
	if err != nil {
		return 0, 0, &bluebonnet.ErrUpstream{Component: "llm", Err: err}
	}
	if q, cr, ok := parseTurnScores(reply.Content); ok {
		return q, cr, nil
	}

	req.Messages = append(messages,
		bluebonnet.AssistantMessage(reply.Content),
		bluebonnet.UserMessage(`Your previous reply could not be parsed. Respond with ONLY {"quality": 0-100, "context_resolution": 0-5, "feedback": "..."}.`),
	)
	reply, err = r.judge.provider.Complete(ctx, req)
	if err != nil {
		return 0, 0, &bluebonnet.ErrUpstream{Component: "llm", Err: err}
	}
	if q, cr, ok := parseTurnScores(reply.Content); ok {
		return q, cr, nil
	}
	return 0, 0, &bluebonnet.ErrParse{Component: "judge", Raw: reply.Content, Err: fmt.Errorf("turn scores unparseable")}
}

func parseTurnScores(response string) (quality, resolution float64, ok bool) {
	obj, found := extractJSONObject(response)
	if !found {
		return 0, 0, false
	}
	var parsed struct {
		Quality           float64 `json:"quality"`
		ContextResolution float64 `json:"context_resolution"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return 0, 0, false
	}
	return clamp(parsed.Quality, 100), clamp(parsed.ContextResolution, 5), true
}
