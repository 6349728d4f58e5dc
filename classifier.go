package bluebonnet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

const classifierTemperature = 0.1

const classifierPrompt = `You are an intent classifier for a Texas childcare assistance assistant.

Classify the user's query as one of:
- "location_search": the user is asking WHERE to find childcare facilities or providers near a place ("daycares near 78701", "find a TRS provider in Austin").
- "information": anything else — policy, eligibility, costs, application procedure, program rules.

Respond with a JSON object: {"intent": "information"} or {"intent": "location_search"}.

Query: %s`

const classifierSchemaReminder = `Your previous reply could not be parsed. Respond with ONLY {"intent": "information"} or {"intent": "location_search"}. No prose.`

var classifierSchema = &ResponseSchema{
	Name: "intent",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"intent": {"type": "string", "enum": ["information", "location_search"]}
		},
		"required": ["intent"],
		"additionalProperties": false
	}`),
}

// IntentClassifier routes a query to the information or location path with a
// single-field JSON LLM call. Parse failures after one schema-reminder retry
// default to IntentInformation; the pipeline never blocks on classification.
type IntentClassifier struct {
	provider Provider
	logger   *slog.Logger
}

// ClassifierOption configures an IntentClassifier.
type ClassifierOption func(*IntentClassifier)

// ClassifierLogger sets the structured logger for classification fallbacks.
func ClassifierLogger(l *slog.Logger) ClassifierOption {
	return func(c *IntentClassifier) { c.logger = l }
}

// NewIntentClassifier creates a classifier backed by the given provider.
func NewIntentClassifier(provider Provider, opts ...ClassifierOption) *IntentClassifier {
	c := &IntentClassifier{provider: provider}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}

// Classify returns the query's intent. On provider or parse failure it
// returns IntentInformation; cancellation surfaces as an error.
func (c *IntentClassifier) Classify(ctx context.Context, query string) (Intent, error) {
	messages := []ChatMessage{UserMessage(fmt.Sprintf(classifierPrompt, query))}
	req := ChatRequest{
		Messages:       messages,
		ResponseSchema: classifierSchema,
		Params:         TemperatureParams(classifierTemperature),
	}

	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("intent classification failed, defaulting to information", "error", err)
		return IntentInformation, nil
	}
	if intent, ok := parseIntent(resp.Content); ok {
		return intent, nil
	}

	// One repair round with the schema restated.
	req.Messages = append(messages,
		AssistantMessage(resp.Content),
		UserMessage(classifierSchemaReminder),
	)
	resp, err = c.provider.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("intent classification retry failed, defaulting to information", "error", err)
		return IntentInformation, nil
	}
	if intent, ok := parseIntent(resp.Content); ok {
		return intent, nil
	}
	c.logger.Warn("intent response unparseable, defaulting to information", "raw", resp.Content)
	return IntentInformation, nil
}

func parseIntent(response string) (Intent, bool) {
	obj, ok := extractJSONObject(response)
	if !ok {
		return "", false
	}
	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return "", false
	}
	switch Intent(parsed.Intent) {
	case IntentInformation, IntentLocation:
		return Intent(parsed.Intent), true
	}
	return "", false
}
