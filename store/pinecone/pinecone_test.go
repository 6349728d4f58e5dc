package pinecone

import (
	"context"
	"testing"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
	"google.golang.org/protobuf/types/known/structpb"
)

func metadata(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("build metadata: %v", err)
	}
	return s
}

func TestChunkFromMetadata(t *testing.T) {
	md := metadata(t, map[string]any{
		"text":     "Providers must report attendance weekly.",
		"filename": "provider-handbook.pdf",
		"page":     34,
	})

	rc := chunkFromMetadata("vec-1", md)

	if rc.ID != "vec-1" {
		t.Errorf("ID = %q, want %q", rc.ID, "vec-1")
	}
	if rc.Text != "Providers must report attendance weekly." {
		t.Errorf("unexpected text: %q", rc.Text)
	}
	if rc.Filename != "provider-handbook.pdf" {
		t.Errorf("Filename = %q, want %q", rc.Filename, "provider-handbook.pdf")
	}
	if rc.Page != "34" {
		t.Errorf("Page = %q, want %q", rc.Page, "34")
	}
	if rc.Source != bluebonnet.SourceDocument {
		t.Errorf("Source = %q, want %q", rc.Source, bluebonnet.SourceDocument)
	}
}

func TestChunkFromMetadata_PageAsString(t *testing.T) {
	md := metadata(t, map[string]any{"text": "body", "page": "N/A"})
	rc := chunkFromMetadata("vec-2", md)
	if rc.Page != "N/A" {
		t.Errorf("Page = %q, want %q", rc.Page, "N/A")
	}
}

func TestChunkFromMetadata_ContentFallback(t *testing.T) {
	md := metadata(t, map[string]any{"content": "stored under content"})
	rc := chunkFromMetadata("vec-3", md)
	if rc.Text != "stored under content" {
		t.Errorf("Text = %q, want content fallback", rc.Text)
	}
}

func TestChunkFromMetadata_Nil(t *testing.T) {
	rc := chunkFromMetadata("vec-4", nil)
	if rc.ID != "vec-4" || rc.Page != "N/A" || rc.Text != "" {
		t.Errorf("unexpected chunk for nil metadata: %+v", rc)
	}
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Config{IndexName: "corpus"}); err == nil {
		t.Error("expected error for missing API key")
	}
	if _, err := New(ctx, Config{APIKey: "key"}); err == nil {
		t.Error("expected error for missing index name and host")
	}
}
