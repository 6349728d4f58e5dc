package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
	"github.com/lonestar-labs/bluebonnet/eval"
	"github.com/lonestar-labs/bluebonnet/internal/config"
)

func evalCmd() *cobra.Command {
	var (
		qaDir          string
		mode           string
		noCitation     bool
		resume         bool
		workers        int
		conversational bool
		scripts        string
		judgeRPM       int
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the evaluation harness over a Q&A dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg := config.Load(configPath)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			a, err := compose(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = a.close(shutCtx)
			}()

			// The generator's backend doubles as the grading judge.
			judgeProvider, err := roleProvider(cfg.Generator, "judge", a.inst)
			if err != nil {
				return err
			}
			if judgeRPM > 0 {
				judgeProvider = bluebonnet.WithRateLimit(judgeProvider, bluebonnet.RPM(judgeRPM))
			}
			judgeOpts := []eval.JudgeOption{eval.JudgeLogger(logger)}
			if noCitation {
				judgeOpts = append(judgeOpts, eval.WithoutCitationScoring())
			}
			judge := eval.NewJudge(judgeProvider, judgeOpts...)

			if mode == "" {
				mode = cfg.Retrieval.Mode
			}
			retrievalMode, err := bluebonnet.ParseRetrievalMode(mode)
			if err != nil {
				return err
			}
			if workers == 0 {
				workers = cfg.Eval.ParallelWorkers
			}

			runner := eval.NewRunner(a.bot, judge,
				eval.RunnerMode(retrievalMode),
				eval.RunnerWorkers(workers),
				eval.RunnerThreshold(cfg.Eval.FailThreshold),
				eval.RunnerResultsDir(cfg.Eval.ResultsDir),
				eval.RunnerProgress(),
				eval.RunnerLogger(logger),
			)

			if conversational {
				return runConversational(ctx, runner, scripts)
			}
			return runBatch(ctx, runner, qaDir, resume)
		},
	}

	cmd.Flags().StringVar(&qaDir, "qa-dir", "", "directory of markdown Q&A datasets")
	cmd.Flags().StringVar(&mode, "mode", "", "retrieval mode: dense, hybrid, managed (default from config)")
	cmd.Flags().BoolVar(&noCitation, "no-citation", false, "grade without citation quality")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the last checkpoint")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel evaluations (default from config)")
	cmd.Flags().BoolVar(&conversational, "conversational", false, "run scripted multi-turn evaluation")
	cmd.Flags().StringVar(&scripts, "scripts", "", "YAML conversation scripts (with --conversational)")
	cmd.Flags().IntVar(&judgeRPM, "judge-rpm", 0, "cap judge requests per minute (0 = unlimited)")
	return cmd
}

func runBatch(ctx context.Context, runner *eval.Runner, qaDir string, resume bool) error {
	if qaDir == "" {
		return fmt.Errorf("--qa-dir is required")
	}
	files, err := filepath.Glob(filepath.Join(qaDir, "*.md"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .md datasets in %s", qaDir)
	}
	sort.Strings(files)

	summary, err := runner.Run(ctx, files, resume)
	if err != nil {
		return err
	}

	fmt.Printf("\nmode=%s run=%s\n", summary.Mode, summary.RunDir)
	fmt.Printf("completed %d/%d  avg=%.1f  pass_rate=%.0f%%\n",
		summary.Completed, summary.Total, summary.AverageScore, summary.PassRate*100)
	if summary.StoppedEarly {
		return fmt.Errorf("stopped early: question %d scored below %.0f (re-run with --resume after fixing)",
			summary.FailedIndex+1, summary.Threshold)
	}
	return nil
}

func runConversational(ctx context.Context, runner *eval.Runner, scriptsPath string) error {
	if scriptsPath == "" {
		return fmt.Errorf("--scripts is required with --conversational")
	}
	scripts, err := eval.LoadScripts(scriptsPath)
	if err != nil {
		return err
	}

	results, err := runner.RunConversational(ctx, scripts)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		status := "PASS"
		if !r.AllTurnsPassed {
			status = "FAIL"
			failed++
		}
		fmt.Printf("%-6s %s  avg=%.1f  context_resolution=%.0f%%\n",
			status, r.Script, r.AverageScore, r.ContextResolutionRate*100)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversations failed", failed, len(results))
	}
	return nil
}
