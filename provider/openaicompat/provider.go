package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

// Provider implements bluebonnet.Provider for any OpenAI-compatible API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
//
// Provider-level options (WithOptions) are applied to every request.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// mergeParams returns the provider's base options with any per-request
// GenerationParams appended. Per-request params override provider defaults
// because options are applied in order (last wins).
func (p *Provider) mergeParams(params *bluebonnet.GenerationParams) []Option {
	if params == nil {
		return p.opts
	}
	opts := make([]Option, len(p.opts), len(p.opts)+3)
	copy(opts, p.opts)
	if params.Temperature != nil {
		opts = append(opts, WithTemperature(*params.Temperature))
	}
	if params.TopP != nil {
		opts = append(opts, WithTopP(*params.TopP))
	}
	if params.MaxTokens > 0 {
		opts = append(opts, WithMaxTokens(params.MaxTokens))
	}
	return opts
}

// Complete sends a chat request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req bluebonnet.ChatRequest) (bluebonnet.ChatResponse, error) {
	body := BuildBody(req.Messages, p.model, req.ResponseSchema, p.mergeParams(req.Params)...)

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return bluebonnet.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return bluebonnet.ChatResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return bluebonnet.ChatResponse{}, &bluebonnet.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return ParseResponse(chatResp)
}

// sendHTTP marshals the request body and posts it to the chat completions endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &bluebonnet.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &bluebonnet.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.client.Do(httpReq)
}

// httpErr reads the response body and returns an ErrHTTP for retry middleware.
// Parses the Retry-After header when present (429/503 responses).
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &bluebonnet.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: bluebonnet.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface check.
var _ bluebonnet.Provider = (*Provider)(nil)
