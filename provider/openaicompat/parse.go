package openaicompat

import (
	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

// ParseResponse converts an OpenAI-format ChatResponse to a bluebonnet
// ChatResponse, extracting content and usage from choices[0].
func ParseResponse(resp ChatResponse) (bluebonnet.ChatResponse, error) {
	var out bluebonnet.ChatResponse

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
	}

	if resp.Usage != nil {
		out.Usage = bluebonnet.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}
