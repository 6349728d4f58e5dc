package bluebonnet

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestGenerate_CitedAnswer(t *testing.T) {
	p := &stubProvider{responses: []string{"The limit is 85% SMI [Doc 2], verified annually [Doc 1]."}}
	g := NewGenerator(p)
	chunks := policyChunks(3)

	res, err := g.Generate(context.Background(), "income limit?", chunks, "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.FellBack {
		t.Fatal("unexpected fallback")
	}
	// Sources follow first-mention order.
	if len(res.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(res.Sources))
	}
	if res.Sources[0].Doc != 2 || res.Sources[1].Doc != 1 {
		t.Errorf("source order = %d, %d; want 2, 1", res.Sources[0].Doc, res.Sources[1].Doc)
	}
	if res.Sources[0].Page != "2" {
		t.Errorf("page = %q, want 2", res.Sources[0].Page)
	}
	if res.Usage.InputTokens == 0 {
		t.Error("usage not propagated")
	}
}

func TestGenerate_EmptyChunksReturnsFallback(t *testing.T) {
	p := &stubProvider{}
	g := NewGenerator(p)

	res, err := g.Generate(context.Background(), "q", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != FallbackAnswer || !res.FellBack {
		t.Errorf("unexpected result: %+v", res)
	}
	if p.calls != 0 {
		t.Error("empty retrieval must not call the provider")
	}
}

func TestGenerate_ProviderFailureReturnsFallback(t *testing.T) {
	p := &stubProvider{err: fmt.Errorf("server error")}
	g := NewGenerator(p)

	res, err := g.Generate(context.Background(), "q", policyChunks(1), "")
	if err != nil {
		t.Fatalf("provider failure must fall back, not error: %v", err)
	}
	if res.Answer != FallbackAnswer || !res.FellBack {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestGenerate_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &stubProvider{err: ctx.Err()}
	g := NewGenerator(p)

	_, err := g.Generate(ctx, "q", policyChunks(1), "")
	if err == nil {
		t.Fatal("cancellation must surface as an error, not the fallback answer")
	}
}

func TestGenerate_PromptLayout(t *testing.T) {
	p := &stubProvider{responses: []string{"Answer [Doc 1]."}}
	g := NewGenerator(p)

	_, err := g.Generate(context.Background(), "how much?", policyChunks(2), "Family of 3, income discussed.")
	if err != nil {
		t.Fatal(err)
	}
	req := p.requests[0]
	if req.Messages[0].Role != "system" {
		t.Fatal("first message must be the system prompt")
	}
	user := req.Messages[1].Content
	if !strings.Contains(user, "[Doc 1: ccs_handbook.pdf, Page 1]") {
		t.Errorf("excerpt header missing: %q", user)
	}
	if !strings.Contains(user, "Family of 3") {
		t.Error("conversation context missing from prompt")
	}
	if !strings.HasSuffix(user, "Question: how much?") {
		t.Errorf("question must come last: %q", user)
	}
}

func TestExtractCitedSources(t *testing.T) {
	chunks := policyChunks(3)
	chunks[2].SourceURL = "https://example.org/page"

	tests := []struct {
		name   string
		answer string
		want   []int
	}{
		{"in order", "a [Doc 1] b [Doc 2]", []int{1, 2}},
		{"first mention order", "a [Doc 3] b [Doc 1] c [Doc 3]", []int{3, 1}},
		{"out of range dropped", "a [Doc 0] b [Doc 4] c [Doc 2]", []int{2}},
		{"no markers", "no citations at all", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCitedSources(tt.answer, chunks)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sources, want %d", len(got), len(tt.want))
			}
			for i, doc := range tt.want {
				if got[i].Doc != doc {
					t.Errorf("source %d = Doc %d, want Doc %d", i, got[i].Doc, doc)
				}
			}
		})
	}

	got := ExtractCitedSources("see [Doc 3]", chunks)
	if got[0].URL != "https://example.org/page" {
		t.Errorf("URL = %q, want the chunk's source URL", got[0].URL)
	}
}
