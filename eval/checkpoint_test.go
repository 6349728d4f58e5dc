package eval

import (
	"errors"
	"testing"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

func TestCheckpoint_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	cp := Checkpoint{LastCompletedIndex: 10, LastFile: "eligibility.md", CitationScoring: true}
	if err := SaveCheckpoint(dir, cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := LoadCheckpoint(dir)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a checkpoint")
	}
	if loaded.LastCompletedIndex != 10 || loaded.LastFile != "eligibility.md" || !loaded.CitationScoring {
		t.Errorf("unexpected checkpoint: %+v", loaded)
	}
	if loaded.Timestamp == "" {
		t.Error("expected timestamp to be set")
	}
}

func TestCheckpoint_Missing(t *testing.T) {
	cp, err := LoadCheckpoint(t.TempDir())
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if cp != nil {
		t.Errorf("expected nil checkpoint, got %+v", cp)
	}
}

func TestCheckpoint_Remove(t *testing.T) {
	dir := t.TempDir()
	if err := SaveCheckpoint(dir, Checkpoint{LastCompletedIndex: 1}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if err := RemoveCheckpoint(dir); err != nil {
		t.Fatalf("RemoveCheckpoint failed: %v", err)
	}
	cp, err := LoadCheckpoint(dir)
	if err != nil || cp != nil {
		t.Errorf("expected checkpoint gone, got %+v, %v", cp, err)
	}
	// Removing twice is fine.
	if err := RemoveCheckpoint(dir); err != nil {
		t.Errorf("second RemoveCheckpoint failed: %v", err)
	}
}

func TestValidateResume_CitationMismatch(t *testing.T) {
	cp := &Checkpoint{CitationScoring: true}

	if err := cp.ValidateResume(true); err != nil {
		t.Errorf("matching modes should validate, got: %v", err)
	}

	err := cp.ValidateResume(false)
	var mismatch *bluebonnet.ErrConfigMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *bluebonnet.ErrConfigMismatch, got %v", err)
	}
	if mismatch.Stored != "with_citations" || mismatch.Current != "no_citations" {
		t.Errorf("unexpected modes: stored=%q current=%q", mismatch.Stored, mismatch.Current)
	}
}
