// Package websearch implements the external-search retriever over the Brave
// Web Search API. Results become synthetic chunks (Page "web", SourceType
// web) so the reranker and generator treat them like corpus chunks.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

const (
	braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

	fetchTimeout = 8 * time.Second
	fetchSizeCap = 512 << 10 // 512KB per page
	textCap      = 8000      // chars of extracted text kept per page

	userAgent = "Mozilla/5.0 (compatible; BluebonnetBot/1.0)"
)

var nopLogger = slog.New(slog.DiscardHandler)

// Retriever searches the web via Brave and returns synthetic chunks.
type Retriever struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	enrich     bool
	logger     *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithEndpoint overrides the Brave API endpoint (tests).
func WithEndpoint(u string) Option {
	return func(r *Retriever) { r.endpoint = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Retriever) { r.httpClient = c }
}

// WithPageEnrichment toggles fetching result pages and extracting readable
// text to replace the short description snippets. Enabled by default.
func WithPageEnrichment(enabled bool) Option {
	return func(r *Retriever) { r.enrich = enabled }
}

// WithLogger sets the logger for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// New creates a Brave-backed web retriever.
func New(apiKey string, opts ...Option) *Retriever {
	r := &Retriever{
		apiKey:     apiKey,
		endpoint:   braveEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enrich:     true,
		logger:     nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Search queries Brave and returns up to k synthetic chunks in API order.
// The API's ranking is the retrieval order; RetrievalScore encodes it as
// 1/rank so downstream sorting stays stable.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]bluebonnet.RankedChunk, error) {
	if query == "" {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "query", Reason: "must not be empty"}
	}
	if k <= 0 {
		return nil, &bluebonnet.ErrInvalidArgument{Field: "k", Reason: "must be positive"}
	}

	start := time.Now()
	results, err := r.braveSearch(ctx, query, k)
	if err != nil {
		return nil, &bluebonnet.ErrUpstream{Component: "websearch", Err: err}
	}
	if len(results) > k {
		results = results[:k]
	}

	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Description
	}
	if r.enrich {
		r.enrichTexts(ctx, results, texts)
	}

	chunks := make([]bluebonnet.RankedChunk, 0, len(results))
	for i, res := range results {
		text := strings.TrimSpace(texts[i])
		if text == "" {
			continue
		}
		rc := bluebonnet.RankedChunk{
			RetrievalScore: 1.0 / float64(i+1),
			Source:         bluebonnet.SourceWeb,
		}
		rc.ID = bluebonnet.NewID()
		rc.Text = text
		rc.Filename = res.Title
		rc.Page = "web"
		rc.SourceURL = res.URL
		chunks = append(chunks, rc)
	}
	r.logger.Debug("web search", "k", k, "results", len(chunks), "elapsed", time.Since(start))
	return chunks, nil
}

func (r *Retriever) braveSearch(ctx context.Context, query string, count int) ([]braveResult, error) {
	u := fmt.Sprintf("%s?q=%s&count=%d", r.endpoint, url.QueryEscape(query), count)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("brave API %d: %s", resp.StatusCode, string(body))
	}

	var data struct {
		Web struct {
			Results []braveResult `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("brave parse: %w", err)
	}
	return data.Web.Results, nil
}

// enrichTexts fetches result pages in parallel and replaces description
// snippets with extracted readable text. Failures leave the snippet in place.
func (r *Retriever) enrichTexts(ctx context.Context, results []braveResult, texts []string) {
	var wg sync.WaitGroup
	for i, res := range results {
		wg.Add(1)
		go func(idx int, pageURL string) {
			defer wg.Done()
			if text := r.fetchReadable(ctx, pageURL); text != "" {
				texts[idx] = text
			}
		}(i, res.URL)
	}
	wg.Wait()
}

// fetchReadable downloads a page and extracts its main text content.
// Returns "" on any failure.
func (r *Retriever) fetchReadable(ctx context.Context, pageURL string) string {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return ""
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(io.LimitReader(resp.Body, fetchSizeCap), parsed)
	if err != nil {
		r.logger.Debug("readability extraction failed", "url", pageURL, "error", err)
		return ""
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > textCap {
		text = bluebonnet.TruncateText(text, textCap)
	}
	return text
}

// Compile-time interface check.
var _ bluebonnet.Retriever = (*Retriever)(nil)
