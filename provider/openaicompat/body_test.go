package openaicompat

import (
	"encoding/json"
	"testing"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

func TestBuildBody_SystemMessages(t *testing.T) {
	messages := []bluebonnet.ChatMessage{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "Hello"},
	}

	req := BuildBody(messages, "gpt-4o", nil)

	if req.Model != "gpt-4o" {
		t.Errorf("expected model 'gpt-4o', got %q", req.Model)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}

	// System message stays as role:"system".
	if req.Messages[0].Role != "system" {
		t.Errorf("expected role 'system', got %q", req.Messages[0].Role)
	}
	if req.Messages[0].Content != "You are a helpful assistant." {
		t.Errorf("unexpected system content: %v", req.Messages[0].Content)
	}

	// User message.
	if req.Messages[1].Role != "user" {
		t.Errorf("expected role 'user', got %q", req.Messages[1].Role)
	}
}

func TestBuildBody_UserAndAssistant(t *testing.T) {
	messages := []bluebonnet.ChatMessage{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello!"},
		{Role: "user", Content: "How are you?"},
	}

	req := BuildBody(messages, "gpt-4o", nil)

	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(req.Messages))
	}

	if req.Messages[0].Role != "user" {
		t.Errorf("expected role 'user', got %q", req.Messages[0].Role)
	}
	if req.Messages[1].Role != "assistant" {
		t.Errorf("expected role 'assistant', got %q", req.Messages[1].Role)
	}
	if req.Messages[1].Content != "Hello!" {
		t.Errorf("unexpected assistant content: %v", req.Messages[1].Content)
	}
	if req.Messages[2].Role != "user" {
		t.Errorf("expected role 'user', got %q", req.Messages[2].Role)
	}
}

func TestBuildBody_Schema(t *testing.T) {
	schema := &bluebonnet.ResponseSchema{
		Name:   "chunk_scores",
		Schema: json.RawMessage(`{"type":"object"}`),
	}

	req := BuildBody([]bluebonnet.ChatMessage{{Role: "user", Content: "score"}}, "gpt-4o", schema)

	if req.ResponseFormat == nil {
		t.Fatal("expected response_format to be set")
	}
	if req.ResponseFormat.Type != "json_schema" {
		t.Errorf("expected type 'json_schema', got %q", req.ResponseFormat.Type)
	}
	if req.ResponseFormat.JSONSchema.Name != "chunk_scores" {
		t.Errorf("expected schema name 'chunk_scores', got %q", req.ResponseFormat.JSONSchema.Name)
	}
	if !req.ResponseFormat.JSONSchema.Strict {
		t.Error("expected strict mode")
	}
}

func TestBuildBody_NilSchema(t *testing.T) {
	req := BuildBody([]bluebonnet.ChatMessage{{Role: "user", Content: "hi"}}, "gpt-4o", nil)
	if req.ResponseFormat != nil {
		t.Error("expected no response_format without a schema")
	}
}

func TestBuildBody_Options(t *testing.T) {
	req := BuildBody(
		[]bluebonnet.ChatMessage{{Role: "user", Content: "hi"}},
		"gpt-4o",
		nil,
		WithTemperature(0.2),
		WithTopP(0.95),
		WithMaxTokens(512),
		WithStop("\n\n"),
		WithSeed(42),
	)

	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", req.Temperature)
	}
	if req.TopP == nil || *req.TopP != 0.95 {
		t.Errorf("expected top_p 0.95, got %v", req.TopP)
	}
	if req.MaxTokens != 512 {
		t.Errorf("expected max_tokens 512, got %d", req.MaxTokens)
	}
	if len(req.Stop) != 1 || req.Stop[0] != "\n\n" {
		t.Errorf("unexpected stop: %v", req.Stop)
	}
	if req.Seed == nil || *req.Seed != 42 {
		t.Errorf("expected seed 42, got %v", req.Seed)
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse(ChatResponse{
		ID: "chatcmpl-1",
		Choices: []Choice{{
			Index:   0,
			Message: &ChoiceMessage{Role: "assistant", Content: "answer [Doc 1]"},
		}},
		Usage: &Usage{PromptTokens: 100, CompletionTokens: 30},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "answer [Doc 1]" {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if resp.Usage.InputTokens != 100 || resp.Usage.OutputTokens != 30 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestParseResponse_NoChoices(t *testing.T) {
	resp, err := ParseResponse(ChatResponse{ID: "chatcmpl-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "" {
		t.Errorf("expected empty content, got %q", resp.Content)
	}
}
