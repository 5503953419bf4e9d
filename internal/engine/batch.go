// internal/engine/batch.go
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
)

// BatchOptions control one batch invocation.
type BatchOptions struct {
	// Start and End select the half-open slice [Start, End) of the task
	// list. End <= 0 means "through the last task".
	Start int
	End   int

	// DryRun reports what would run without touching the browser.
	DryRun bool

	// StopOnFailure aborts the batch after the first failed task instead
	// of continuing.
	StopOnFailure bool
}

// BatchRunner walks a task list sequentially through a Runner and offers
// every result to the sink.
type BatchRunner struct {
	runner *Runner
	sink   schemas.ResultSink
	dirs   RunDirs
	logger *zap.Logger
}

// NewBatchRunner wires the batch loop. sink may be nil when no backend is
// configured.
func NewBatchRunner(runner *Runner, sink schemas.ResultSink, dirs RunDirs, logger *zap.Logger) *BatchRunner {
	return &BatchRunner{
		runner: runner,
		sink:   sink,
		dirs:   dirs,
		logger: logger.Named("batch"),
	}
}

// RunAll executes the selected slice of tasks and writes the batch report.
// The report is always returned, even on early abort.
func (b *BatchRunner) RunAll(ctx context.Context, tasks []schemas.Task, opts BatchOptions) (*schemas.BatchReport, error) {
	selected, err := sliceTasks(tasks, opts.Start, opts.End)
	if err != nil {
		return nil, err
	}

	report := &schemas.BatchReport{StartedAt: time.Now().UTC()}
	b.logger.Info("Starting batch.",
		zap.Int("selected", len(selected)),
		zap.Int("total", len(tasks)),
		zap.Bool("dry_run", opts.DryRun))

	for _, task := range selected {
		if ctx.Err() != nil {
			b.logger.Warn("Batch interrupted; remaining tasks skipped.", zap.Error(ctx.Err()))
			break
		}

		var result *schemas.TaskResult
		if opts.DryRun {
			now := time.Now().UTC()
			result = &schemas.TaskResult{
				Task:       task,
				Status:     schemas.TaskSkipped,
				SkipReason: "dry-run",
				StartedAt:  now,
				EndedAt:    now,
			}
			b.logger.Info("Dry run; task skipped.",
				zap.String("task", task.Name),
				zap.Int("index", task.Index),
				zap.Strings("files", task.FilesToUpload))
		} else {
			result = b.runner.RunTask(ctx, task)
		}

		report.Append(*result)
		b.offer(ctx, result)

		if opts.StopOnFailure && result.Status == schemas.TaskFailed {
			b.logger.Warn("Stopping batch after failed task.", zap.String("task", task.Name))
			break
		}
	}

	report.EndedAt = time.Now().UTC()
	if err := b.writeReport(report); err != nil {
		b.logger.Warn("Failed to write batch report.", zap.Error(err))
	}

	b.logger.Info("Batch finished.",
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

// offer hands a finalized result to the sink. Sink errors never influence
// task status or batch flow.
func (b *BatchRunner) offer(ctx context.Context, result *schemas.TaskResult) {
	if b.sink == nil {
		return
	}
	if err := b.sink.Offer(ctx, result); err != nil {
		b.logger.Warn("Result sink offer failed; result is final regardless.",
			zap.String("task", result.Task.Name),
			zap.Error(err))
	}
}

func (b *BatchRunner) writeReport(report *schemas.BatchReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding batch report: %w", err)
	}
	path := filepath.Join(b.dirs.Root, "batch_report.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing batch report: %w", err)
	}
	b.logger.Info("Wrote batch report.", zap.String("path", path))
	return nil
}

func sliceTasks(tasks []schemas.Task, start, end int) ([]schemas.Task, error) {
	if start < 0 {
		return nil, fmt.Errorf("start index %d is negative", start)
	}
	if end <= 0 || end > len(tasks) {
		end = len(tasks)
	}
	if start > end {
		return nil, fmt.Errorf("start index %d is past end index %d", start, end)
	}
	return tasks[start:end], nil
}
