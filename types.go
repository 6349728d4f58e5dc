package bluebonnet

import "encoding/json"

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseSchema requests schema-constrained JSON output. Providers with a
// native structured-output mode enforce it server-side; callers post-validate
// and retry once with a schema reminder otherwise.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"` // JSON Schema
}

// GenerationParams tune a single completion. Nil fields use provider defaults.
type GenerationParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

type ChatRequest struct {
	Messages       []ChatMessage     `json:"messages"`
	ResponseSchema *ResponseSchema   `json:"response_schema,omitempty"`
	Params         *GenerationParams `json:"params,omitempty"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates token counts from another Usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

// TemperatureParams returns GenerationParams with only the temperature set.
func TemperatureParams(t float64) *GenerationParams {
	return &GenerationParams{Temperature: &t}
}
