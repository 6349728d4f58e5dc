package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

const runDirFormat = "RUN_20060102_150405"

// Result is one graded question, streamed to detailed_results.jsonl.
type Result struct {
	Index        int                      `json:"index"`
	File         string                   `json:"file"`
	Number       int                      `json:"number"`
	Question     string                   `json:"question"`
	Reference    string                   `json:"reference"`
	Answer       string                   `json:"answer"`
	Sources      []bluebonnet.CitedSource `json:"sources"`
	ResponseType string                   `json:"response_type"`
	Scores       Scores                   `json:"scores"`
	Composite    float64                  `json:"composite"`
	ElapsedSec   float64                  `json:"elapsed_sec"`
}

// Summary aggregates one run.
type Summary struct {
	Mode            string    `json:"mode"`
	RunDir          string    `json:"run_dir"`
	Total           int       `json:"total_questions"`
	Completed       int       `json:"completed"`
	AverageScore    float64   `json:"average_score"`
	PassRate        float64   `json:"pass_rate"`
	AvgAccuracy     float64   `json:"avg_accuracy"`
	AvgCompleteness float64   `json:"avg_completeness"`
	AvgCitation     float64   `json:"avg_citation"`
	AvgCoherence    float64   `json:"avg_coherence"`
	StoppedEarly    bool      `json:"stopped_early"`
	FailedIndex     int       `json:"failed_index,omitempty"`
	CitationScoring bool      `json:"citation_scoring"`
	Threshold       float64   `json:"threshold"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`

	failures []Result
}

// newRunDir creates results/<mode>/RUN_YYYYMMDD_HHMMSS/ and returns its path.
func newRunDir(resultsDir, mode string, now time.Time) (string, error) {
	dir := filepath.Join(resultsDir, mode, now.Format(runDirFormat))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

// latestRunDir returns the most recent RUN_* directory under modeDir by
// timestamp, or an error when none exists.
func latestRunDir(modeDir string) (string, error) {
	entries, err := os.ReadDir(modeDir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", modeDir, err)
	}
	var runs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "RUN_") {
			runs = append(runs, e.Name())
		}
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no RUN_* directories under %s", modeDir)
	}
	sort.Strings(runs) // timestamp format sorts lexicographically
	return filepath.Join(modeDir, runs[len(runs)-1]), nil
}

func buildSummary(mode, runDir string, results []Result, total int, threshold float64, citations bool, startedAt time.Time) *Summary {
	s := &Summary{
		Mode:            mode,
		RunDir:          runDir,
		Total:           total,
		Completed:       len(results),
		CitationScoring: citations,
		Threshold:       threshold,
		StartedAt:       startedAt,
		FinishedAt:      time.Now().UTC(),
	}
	if len(results) == 0 {
		return s
	}
	passed := 0
	for _, r := range results {
		s.AverageScore += r.Composite
		s.AvgAccuracy += r.Scores.Accuracy
		s.AvgCompleteness += r.Scores.Completeness
		s.AvgCitation += r.Scores.CitationQuality
		s.AvgCoherence += r.Scores.Coherence
		if r.Composite >= threshold {
			passed++
		} else {
			s.failures = append(s.failures, r)
		}
	}
	n := float64(len(results))
	s.AverageScore /= n
	s.AvgAccuracy /= n
	s.AvgCompleteness /= n
	s.AvgCitation /= n
	s.AvgCoherence /= n
	s.PassRate = float64(passed) / n
	return s
}

func writeSummary(runDir string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(runDir, "evaluation_summary.json"), data, 0o644)
}

func writeReport(runDir string, s *Summary) error {
	var b strings.Builder
	b.WriteString("EVALUATION REPORT\n")
	b.WriteString("=================\n\n")
	fmt.Fprintf(&b, "Mode:              %s\n", s.Mode)
	fmt.Fprintf(&b, "Questions:         %d/%d completed\n", s.Completed, s.Total)
	fmt.Fprintf(&b, "Average score:     %.1f\n", s.AverageScore)
	fmt.Fprintf(&b, "Pass rate:         %.0f%% (threshold %.0f)\n", s.PassRate*100, s.Threshold)
	fmt.Fprintf(&b, "Citation scoring:  %v\n\n", s.CitationScoring)
	fmt.Fprintf(&b, "Accuracy:          %.2f / 5\n", s.AvgAccuracy)
	fmt.Fprintf(&b, "Completeness:      %.2f / 5\n", s.AvgCompleteness)
	if s.CitationScoring {
		fmt.Fprintf(&b, "Citation quality:  %.2f / 5\n", s.AvgCitation)
	}
	fmt.Fprintf(&b, "Coherence:         %.2f / 3\n", s.AvgCoherence)
	if s.StoppedEarly {
		fmt.Fprintf(&b, "\nSTOPPED EARLY: question %d scored below %.0f. Resume with --resume.\n", s.FailedIndex+1, s.Threshold)
	}
	return os.WriteFile(filepath.Join(runDir, "evaluation_report.txt"), []byte(b.String()), 0o644)
}

// writeFailureAnalysis lists every below-threshold question with its scores
// and judge feedback. Written only when failures exist.
func writeFailureAnalysis(runDir string, s *Summary) error {
	if len(s.failures) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("FAILURE ANALYSIS\n")
	b.WriteString("================\n")
	for _, r := range s.failures {
		fmt.Fprintf(&b, "\nQ%d (%s) — composite %.1f\n", r.Number, r.File, r.Composite)
		fmt.Fprintf(&b, "  Question: %s\n", r.Question)
		fmt.Fprintf(&b, "  Scores:   accuracy %.0f, completeness %.0f, citation %.0f, coherence %.0f\n",
			r.Scores.Accuracy, r.Scores.Completeness, r.Scores.CitationQuality, r.Scores.Coherence)
		if r.Scores.Feedback != "" {
			fmt.Fprintf(&b, "  Feedback: %s\n", r.Scores.Feedback)
		}
	}
	return os.WriteFile(filepath.Join(runDir, "failure_analysis.txt"), []byte(b.String()), 0o644)
}
