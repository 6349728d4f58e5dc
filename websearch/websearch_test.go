package websearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

const braveResponse = `{
	"web": {
		"results": [
			{"title": "Texas Workforce Commission", "url": "https://twc.texas.gov/programs/childcare", "description": "Child Care Services helps eligible families pay for child care."},
			{"title": "Child Care Regulation", "url": "https://www.hhs.texas.gov/ccr", "description": "Licensing and regulation of child care operations in Texas."},
			{"title": "Empty result", "url": "https://example.com/empty", "description": ""}
		]
	}
}`

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "brave-key" {
			t.Errorf("unexpected token header: %s", r.Header.Get("X-Subscription-Token"))
		}
		if got := r.URL.Query().Get("q"); got != "child care subsidy" {
			t.Errorf("q = %q, want %q", got, "child care subsidy")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(braveResponse))
	}))
	defer srv.Close()

	r := New("brave-key", WithEndpoint(srv.URL), WithPageEnrichment(false))

	chunks, err := r.Search(context.Background(), "child care subsidy", 5)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}

	// Empty-description result is dropped.
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	first := chunks[0]
	if first.Filename != "Texas Workforce Commission" {
		t.Errorf("Filename = %q, want result title", first.Filename)
	}
	if first.Page != "web" {
		t.Errorf("Page = %q, want %q", first.Page, "web")
	}
	if first.SourceURL != "https://twc.texas.gov/programs/childcare" {
		t.Errorf("SourceURL = %q", first.SourceURL)
	}
	if first.Source != bluebonnet.SourceWeb {
		t.Errorf("Source = %q, want %q", first.Source, bluebonnet.SourceWeb)
	}
	if first.ID == "" {
		t.Error("expected a generated chunk ID")
	}
	if chunks[0].RetrievalScore <= chunks[1].RetrievalScore {
		t.Error("expected API order encoded as descending retrieval score")
	}
}

func TestSearch_RespectsK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(braveResponse))
	}))
	defer srv.Close()

	r := New("brave-key", WithEndpoint(srv.URL), WithPageEnrichment(false))

	chunks, err := r.Search(context.Background(), "copay", 1)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestSearch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer srv.Close()

	r := New("bad-key", WithEndpoint(srv.URL), WithPageEnrichment(false))

	_, err := r.Search(context.Background(), "copay", 5)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	var upstream *bluebonnet.ErrUpstream
	if !errors.As(err, &upstream) {
		t.Fatalf("expected *bluebonnet.ErrUpstream, got %T", err)
	}
	if upstream.Component != "websearch" {
		t.Errorf("Component = %q, want %q", upstream.Component, "websearch")
	}
}

func TestSearch_Validation(t *testing.T) {
	r := New("key", WithPageEnrichment(false))
	if _, err := r.Search(context.Background(), "", 5); err == nil {
		t.Error("expected error for empty query")
	}
	if _, err := r.Search(context.Background(), "copay", 0); err == nil {
		t.Error("expected error for k=0")
	}
}

func TestSearch_Enrichment(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>CCS Guide</title></head><body><article><p>` +
			`Child Care Services subsidies are administered by Local Workforce Development Boards. ` +
			`Families apply through their local board and must meet income requirements below 85 percent ` +
			`of the state median income for their family size to qualify for assistance.` +
			`</p></article></body></html>`))
	}))
	defer page.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[{"title":"CCS Guide","url":"` + page.URL + `","description":"short snippet"}]}}`))
	}))
	defer srv.Close()

	r := New("key", WithEndpoint(srv.URL))

	chunks, err := r.Search(context.Background(), "how to apply", 3)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text == "short snippet" {
		t.Error("expected extracted page text to replace the snippet")
	}
}

func TestSearch_EnrichmentFetchFailureKeepsSnippet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Unreachable page URL.
		w.Write([]byte(`{"web":{"results":[{"title":"Dead link","url":"http://127.0.0.1:1","description":"snippet survives"}]}}`))
	}))
	defer srv.Close()

	r := New("key", WithEndpoint(srv.URL))

	chunks, err := r.Search(context.Background(), "copay", 3)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "snippet survives" {
		t.Errorf("expected snippet fallback, got %+v", chunks)
	}
}
