package eval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

const sampleScripts = `
- name: copay_followup
  turns:
    - question: What is the parent share of cost?
      expected_topics: [copay, sliding scale]
      must_contain: [copay]
    - question: How is it calculated for two children?
      expected_topics: [copay calculation]
      requires_context: true
- name: provider_basics
  turns:
    - question: What is Texas Rising Star?
      expected_topics: [TRS, quality rating]
`

func TestLoadScripts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripts.yaml")
	if err := os.WriteFile(path, []byte(sampleScripts), 0o644); err != nil {
		t.Fatal(err)
	}

	scripts, err := LoadScripts(path)
	if err != nil {
		t.Fatalf("LoadScripts failed: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("expected 2 scripts, got %d", len(scripts))
	}
	if scripts[0].Name != "copay_followup" || len(scripts[0].Turns) != 2 {
		t.Errorf("unexpected script: %+v", scripts[0])
	}
	if !scripts[0].Turns[1].RequiresContext {
		t.Error("turn 2 should require context")
	}
	if scripts[0].Turns[0].MustContain[0] != "copay" {
		t.Errorf("unexpected must_contain: %v", scripts[0].Turns[0].MustContain)
	}
}

func TestLoadScripts_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("- name: empty_script\n  turns: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScripts(path); err == nil || !strings.Contains(err.Error(), "no turns") {
		t.Errorf("expected no-turns error, got: %v", err)
	}
}

// conversationalBot tracks thread IDs and echoes a canned answer per turn.
type conversationalBot struct {
	threads map[string]int
}

func (b *conversationalBot) Ask(_ context.Context, req bluebonnet.Request) (bluebonnet.Response, error) {
	if b.threads == nil {
		b.threads = map[string]int{}
	}
	b.threads[req.ThreadID]++
	turn := b.threads[req.ThreadID]
	resp := bluebonnet.Response{
		Answer:       "The monthly copay follows the sliding fee scale [Doc 1].",
		ResponseType: bluebonnet.IntentInformation,
		ThreadID:     req.ThreadID,
	}
	if turn > 1 {
		resp.ReformulatedQuery = "How is the parent share of cost calculated for two children?"
	}
	return resp, nil
}

// turnGradingProvider answers the conversational judge schema.
type turnGradingProvider struct{}

func (p *turnGradingProvider) Name() string { return "turn-grading" }
func (p *turnGradingProvider) Complete(_ context.Context, _ bluebonnet.ChatRequest) (bluebonnet.ChatResponse, error) {
	return bluebonnet.ChatResponse{Content: `{"quality": 90, "context_resolution": 4, "feedback": "resolved the pronoun"}`}, nil
}

func TestRunConversational(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripts.yaml")
	if err := os.WriteFile(path, []byte(sampleScripts), 0o644); err != nil {
		t.Fatal(err)
	}
	scripts, err := LoadScripts(path)
	if err != nil {
		t.Fatal(err)
	}

	bot := &conversationalBot{}
	judge := NewJudge(&turnGradingProvider{})
	r := NewRunner(bot, judge, RunnerResultsDir(t.TempDir()))

	results, err := r.RunConversational(context.Background(), scripts)
	if err != nil {
		t.Fatalf("RunConversational failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 conversation results, got %d", len(results))
	}

	first := results[0]
	if first.Script != "copay_followup" || len(first.Turns) != 2 {
		t.Fatalf("unexpected result: %+v", first)
	}
	if first.AverageScore != 90 {
		t.Errorf("average = %f, want 90", first.AverageScore)
	}
	// The single requires_context turn scored 4/5, so the rate is 1.
	if first.ContextResolutionRate != 1 {
		t.Errorf("context resolution rate = %f, want 1", first.ContextResolutionRate)
	}
	if !first.AllTurnsPassed {
		t.Error("all turns should pass")
	}
	if first.Turns[1].ReformulatedQuery == "" {
		t.Error("follow-up turn should carry the reformulated query")
	}

	// Each script ran on its own thread.
	if len(bot.threads) != 2 {
		t.Errorf("expected 2 threads, got %d", len(bot.threads))
	}

	// Scripts with no context-dependent turns report rate 1.
	if results[1].ContextResolutionRate != 1 {
		t.Errorf("rate = %f, want 1", results[1].ContextResolutionRate)
	}
}

func TestRunConversational_MustContainFailure(t *testing.T) {
	scripts := []Script{{
		Name: "strict",
		Turns: []ScriptTurn{{
			Question:    "What is the copay?",
			MustContain: []string{"income verification"},
		}},
	}}

	r := NewRunner(&conversationalBot{}, NewJudge(&turnGradingProvider{}), RunnerResultsDir(t.TempDir()))
	results, err := r.RunConversational(context.Background(), scripts)
	if err != nil {
		t.Fatalf("RunConversational failed: %v", err)
	}
	turn := results[0].Turns[0]
	if turn.Passed {
		t.Error("turn missing a must-contain string should fail")
	}
	if len(turn.MissingStrings) != 1 || turn.MissingStrings[0] != "income verification" {
		t.Errorf("unexpected missing strings: %v", turn.MissingStrings)
	}
	if results[0].AllTurnsPassed {
		t.Error("conversation should not report all turns passed")
	}
}
