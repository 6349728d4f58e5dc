package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

// Defaults for the batch runner.
const (
	DefaultWorkers   = 5
	DefaultThreshold = 70.0
)

// nopLogger discards all output.
var nopLogger = slog.New(slog.DiscardHandler)

// Asker is the chatbot surface the runner needs.
type Asker interface {
	Ask(ctx context.Context, req bluebonnet.Request) (bluebonnet.Response, error)
}

// Runner evaluates Q&A datasets against the chatbot.
type Runner struct {
	bot        Asker
	judge      *Judge
	mode       bluebonnet.RetrievalMode
	workers    int
	threshold  float64
	resultsDir string
	progress   bool
	logger     *slog.Logger
	now        func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// RunnerMode sets the retrieval mode used for every question.
func RunnerMode(m bluebonnet.RetrievalMode) RunnerOption {
	return func(r *Runner) { r.mode = m }
}

// RunnerWorkers bounds the parallel question evaluations (default 5).
func RunnerWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// RunnerThreshold sets the stop-on-fail composite threshold (default 70).
func RunnerThreshold(t float64) RunnerOption {
	return func(r *Runner) { r.threshold = t }
}

// RunnerResultsDir sets the root results directory (default "results").
func RunnerResultsDir(dir string) RunnerOption {
	return func(r *Runner) { r.resultsDir = dir }
}

// RunnerProgress enables a terminal progress bar.
func RunnerProgress() RunnerOption {
	return func(r *Runner) { r.progress = true }
}

// RunnerLogger sets the structured logger.
func RunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner.
func NewRunner(bot Asker, judge *Judge, opts ...RunnerOption) *Runner {
	r := &Runner{
		bot:        bot,
		judge:      judge,
		mode:       bluebonnet.ModeHybrid,
		workers:    DefaultWorkers,
		threshold:  DefaultThreshold,
		resultsDir: "results",
		logger:     nopLogger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type indexed struct {
	idx int
	res Result
	err error
}

// Run evaluates every Q&A pair in files in order. Results stream to
// detailed_results.jsonl as they complete, in question order. A composite
// below the threshold halts dispatch and checkpoints progress up to but not
// including the failed question; resume re-evaluates it.
func (r *Runner) Run(ctx context.Context, files []string, resume bool) (*Summary, error) {
	var pairs []QAPair
	for _, f := range files {
		ps, err := ParseQAFile(f)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, ps...)
	}

	modeDir := filepath.Join(r.resultsDir, string(r.mode))
	if err := os.MkdirAll(modeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create mode dir: %w", err)
	}

	startIdx := 0
	var runDir string
	if resume {
		cp, err := LoadCheckpoint(modeDir)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			if err := cp.ValidateResume(r.judge.CitationScoring()); err != nil {
				return nil, err
			}
			startIdx = cp.LastCompletedIndex
			if dir, err := latestRunDir(modeDir); err == nil {
				runDir = dir
			}
			r.logger.Info("eval: resuming", "start_index", startIdx, "run_dir", runDir)
		}
	}
	if runDir == "" {
		var err error
		if runDir, err = newRunDir(r.resultsDir, string(r.mode), r.now()); err != nil {
			return nil, err
		}
	}
	if startIdx >= len(pairs) {
		return nil, fmt.Errorf("nothing to evaluate: checkpoint index %d, dataset has %d questions", startIdx, len(pairs))
	}

	out, err := os.OpenFile(filepath.Join(runDir, "detailed_results.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open results file: %w", err)
	}
	defer out.Close()

	var bar *progressbar.ProgressBar
	if r.progress {
		bar = progressbar.Default(int64(len(pairs)-startIdx), "evaluating")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	resCh := make(chan indexed, r.workers)
	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				res, err := r.evaluateOne(runCtx, idx, pairs[idx])
				select {
				case resCh <- indexed{idx: idx, res: res, err: err}:
				case <-runCtx.Done():
					return
				}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := startIdx; i < len(pairs); i++ {
			select {
			case jobs <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(resCh)
	}()

	// In-order writer. Out-of-order completions wait in pending until their
	// turn; the stop-on-fail decision is made strictly in question order.
	pending := make(map[int]indexed)
	next := startIdx
	var results []Result
	var failedIdx = -1
	var failedRes Result
	var runErr error
	startedAt := r.now().UTC()

	for item := range resCh {
		pending[item.idx] = item
		if failedIdx >= 0 || runErr != nil {
			continue // draining
		}
		for {
			p, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if p.err != nil {
				runErr = p.err
				cancel()
				break
			}
			if p.res.Composite < r.threshold {
				failedIdx = p.idx
				failedRes = p.res
				r.logger.Warn("eval: question below threshold, stopping",
					"index", p.idx, "composite", p.res.Composite, "threshold", r.threshold)
				cancel()
				break
			}
			if err := writeJSONL(out, p.res); err != nil {
				runErr = err
				cancel()
				break
			}
			results = append(results, p.res)
			if bar != nil {
				_ = bar.Add(1)
			}
			next++
		}
	}

	if runErr != nil {
		_ = SaveCheckpoint(modeDir, Checkpoint{
			LastCompletedIndex: next,
			LastFile:           pairs[min(next, len(pairs)-1)].File,
			CitationScoring:    r.judge.CitationScoring(),
		})
		return nil, runErr
	}

	summary := buildSummary(string(r.mode), runDir, results, len(pairs), r.threshold, r.judge.CitationScoring(), startedAt)
	if failedIdx >= 0 {
		summary.StoppedEarly = true
		summary.FailedIndex = failedIdx
		summary.failures = append(summary.failures, failedRes)
		if err := SaveCheckpoint(modeDir, Checkpoint{
			LastCompletedIndex: next,
			LastFile:           pairs[failedIdx].File,
			CitationScoring:    r.judge.CitationScoring(),
		}); err != nil {
			return nil, err
		}
	} else if err := RemoveCheckpoint(modeDir); err != nil {
		return nil, err
	}

	if err := writeSummary(runDir, summary); err != nil {
		return nil, err
	}
	if err := writeReport(runDir, summary); err != nil {
		return nil, err
	}
	if err := writeFailureAnalysis(runDir, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (r *Runner) evaluateOne(ctx context.Context, idx int, p QAPair) (Result, error) {
	start := time.Now()
	resp, err := r.bot.Ask(ctx, bluebonnet.Request{Question: p.Question, Mode: r.mode})
	if err != nil {
		return Result{}, fmt.Errorf("ask Q%d (%s): %w", p.Number, p.File, err)
	}
	scores, err := r.judge.Score(ctx, p.Question, p.Answer, resp.Answer, resp.Sources)
	if err != nil {
		return Result{}, fmt.Errorf("judge Q%d (%s): %w", p.Number, p.File, err)
	}
	return Result{
		Index:        idx,
		File:         p.File,
		Number:       p.Number,
		Question:     p.Question,
		Reference:    p.Answer,
		Answer:       resp.Answer,
		Sources:      resp.Sources,
		ResponseType: string(resp.ResponseType),
		Scores:       scores,
		Composite:    r.judge.Composite(scores),
		ElapsedSec:   time.Since(start).Seconds(),
	}, nil
}

func writeJSONL(f *os.File, r Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}
