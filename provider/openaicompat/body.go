package openaicompat

import (
	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

// BuildBody converts bluebonnet ChatMessages and a model name into an
// OpenAI-format ChatRequest. System messages stay in the messages array as
// role:"system". Options configure generation parameters.
func BuildBody(messages []bluebonnet.ChatMessage, model string, schema *bluebonnet.ResponseSchema, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
	}

	req := ChatRequest{
		Model:    model,
		Messages: msgs,
	}

	// Structured output: enforce JSON matching the schema.
	if schema != nil && len(schema.Schema) > 0 {
		req.ResponseFormat = &ResponseFormat{
			Type: "json_schema",
			JSONSchema: &JSONSchema{
				Name:   schema.Name,
				Schema: schema.Schema,
				Strict: true,
			},
		}
	}

	for _, opt := range opts {
		opt(&req)
	}
	return req
}
