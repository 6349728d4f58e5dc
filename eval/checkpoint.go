package eval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

const checkpointFile = "checkpoint.json"

// Checkpoint records how far an evaluation run got before stopping. It lives
// at the mode level (results/<mode>/checkpoint.json) and is overwritten by
// each run.
type Checkpoint struct {
	LastCompletedIndex int    `json:"last_completed_index"`
	LastFile           string `json:"last_file"`
	CitationScoring    bool   `json:"citation_scoring"`
	Timestamp          string `json:"timestamp"`
}

// LoadCheckpoint reads the checkpoint for a mode directory. Returns
// (nil, nil) when none exists.
func LoadCheckpoint(modeDir string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(modeDir, checkpointFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

// SaveCheckpoint writes the checkpoint atomically (write + rename).
func SaveCheckpoint(modeDir string, cp Checkpoint) error {
	if cp.Timestamp == "" {
		cp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(modeDir, checkpointFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp, filepath.Join(modeDir, checkpointFile))
}

// RemoveCheckpoint deletes the checkpoint after a fully successful run.
func RemoveCheckpoint(modeDir string) error {
	err := os.Remove(filepath.Join(modeDir, checkpointFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ValidateResume refuses a resume whose checkpoint was written under a
// different citation mode than the current configuration.
func (cp *Checkpoint) ValidateResume(citationScoring bool) error {
	if cp.CitationScoring == citationScoring {
		return nil
	}
	return &bluebonnet.ErrConfigMismatch{
		Stored:  citationModeName(cp.CitationScoring),
		Current: citationModeName(citationScoring),
	}
}

func citationModeName(on bool) string {
	if on {
		return "with_citations"
	}
	return "no_citations"
}
