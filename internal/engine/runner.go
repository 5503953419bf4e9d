// internal/engine/runner.go

// Package engine owns the per-task retry state machine and the batch loop
// around it.
package engine

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
	"github.com/xkilldash9x/autoprompt-cli/internal/agent"
	"github.com/xkilldash9x/autoprompt-cli/internal/config"
	"github.com/xkilldash9x/autoprompt-cli/internal/validate"
)

// State labels a phase of the per-task machine. Transitions:
// PipelineInit -> PipelineRunning -> AgentRunning -> Completed|Failed, with
// retry edges back into PipelineRunning (fresh session) or AgentRunning
// (same session).
type State string

const (
	StatePipelineInit    State = "pipeline_init"
	StatePipelineRunning State = "pipeline_running"
	StateAgentRunning    State = "agent_running"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// Runner executes one task at a time against a single agent. Pipeline
// failures restart the session from scratch; agent failures retry from the
// prompt step on the session that is already up. Agent exhaustion or an
// unhealthy session escalates to a full pipeline cycle.
type Runner struct {
	agent    schemas.Agent
	cfg      *config.Config
	provider config.ProviderConfig
	dirs     RunDirs
	logger   *zap.Logger
}

// NewRunner wires a runner for the configured provider.
func NewRunner(ag schemas.Agent, cfg *config.Config, dirs RunDirs, logger *zap.Logger) *Runner {
	_, provider := cfg.Provider()
	return &Runner{
		agent:    ag,
		cfg:      cfg,
		provider: provider,
		dirs:     dirs,
		logger:   logger.Named("runner"),
	}
}

// RunTask drives one task to a terminal status. It always returns a result;
// errors are folded into the attempt history rather than surfaced.
func (r *Runner) RunTask(ctx context.Context, task schemas.Task) *schemas.TaskResult {
	logger := r.logger.With(
		zap.String("task", task.Name),
		zap.String("agent", r.agent.Name()),
	)

	result := &schemas.TaskResult{
		Task:      task,
		StartedAt: time.Now().UTC(),
	}
	alog := NewAttemptLog(r.dirs.JSONLogs, task, r.agent.Name(), logger)

	taskCtx := ctx
	if budget := r.provider.TaskBudget(); budget > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	state := StatePipelineInit
	finalize := func(st schemas.FinalStatus) *schemas.TaskResult {
		if st == schemas.TaskCompleted {
			state = StateCompleted
		} else {
			state = StateFailed
		}
		result.Status = st
		result.EndedAt = time.Now().UTC()
		alog.Finalize(st)
		logger.Info("Task finished.",
			zap.String("state", string(state)),
			zap.String("status", string(st)),
			zap.Int("pipeline_attempts", result.PipelineAttempts()),
			zap.Int("agent_attempts", result.AgentAttempts()),
			zap.Duration("elapsed", result.Elapsed()))
		return result
	}

	maxTotal := r.provider.Retry.MaxTotalAttempts
	maxAgent := r.provider.Retry.MaxAgentAttempts
	agentAttemptNum := 0

	for pipelineNum := 1; pipelineNum <= maxTotal; pipelineNum++ {
		state = StatePipelineRunning
		logger.Info("Starting pipeline attempt.",
			zap.String("state", string(state)),
			zap.Int("attempt", pipelineNum),
			zap.Int("max", maxTotal))

		prec := r.pipelineAttempt(taskCtx, task, pipelineNum)
		r.record(result, alog, prec, logger)

		if prec.Outcome == schemas.OutcomeFatal {
			r.cleanup(logger)
			return finalize(schemas.TaskFailed)
		}
		if prec.Outcome == schemas.OutcomeRetryable {
			r.cleanup(logger)
			if taskCtx.Err() != nil {
				return finalize(schemas.TaskFailed)
			}
			if pipelineNum < maxTotal && !r.pause(taskCtx) {
				return finalize(schemas.TaskFailed)
			}
			continue
		}

		state = StateAgentRunning
		var succeeded, fatal, escalate bool
		for a := 1; a <= maxAgent; a++ {
			agentAttemptNum++
			logger.Info("Starting agent attempt.",
				zap.String("state", string(state)),
				zap.Int("attempt", a),
				zap.Int("max", maxAgent))

			arec, artifacts, esc := r.agentAttempt(taskCtx, task, agentAttemptNum)
			r.record(result, alog, arec, logger)

			if arec.Outcome == schemas.OutcomeSuccess {
				result.Artifacts = artifacts
				succeeded = true
				break
			}
			if arec.Outcome == schemas.OutcomeFatal {
				fatal = true
				break
			}
			if esc {
				escalate = true
				break
			}
			// The last agent attempt has no follow-up on this session, so
			// neither the health probe nor the pause buys anything.
			if a == maxAgent {
				break
			}
			if err := r.agent.HealthCheck(taskCtx); err != nil {
				logger.Warn("Session unhealthy; escalating to pipeline restart.", zap.Error(err))
				escalate = true
				break
			}
			if taskCtx.Err() != nil || !r.pause(taskCtx) {
				break
			}
		}

		result.Conversation = r.agent.ConversationHistory()
		r.cleanup(logger)

		if succeeded {
			return finalize(schemas.TaskCompleted)
		}
		if fatal || taskCtx.Err() != nil {
			return finalize(schemas.TaskFailed)
		}
		if pipelineNum == maxTotal {
			break
		}
		if escalate {
			logger.Info("Escalated to pipeline tier; restarting session.")
		} else {
			logger.Info("Agent attempts exhausted; restarting session.")
		}
		if !r.pause(taskCtx) {
			return finalize(schemas.TaskFailed)
		}
	}

	logger.Warn("Total attempt budget exhausted.")
	return finalize(schemas.TaskFailed)
}

// pipelineAttempt runs launch, navigate, auth check, and upload. It always
// produces a record; classification decides the retry tier.
func (r *Runner) pipelineAttempt(ctx context.Context, task schemas.Task, number int) schemas.AttemptRecord {
	rec := schemas.AttemptRecord{
		Tier:      schemas.TierPipeline,
		Number:    number,
		StartedAt: time.Now().UTC(),
	}

	err := func() error {
		if err := r.agent.Launch(ctx); err != nil {
			return err
		}
		if err := r.agent.Navigate(ctx); err != nil {
			return err
		}

		st, err := r.agent.CheckAuth(ctx)
		if err != nil {
			return agent.NewPipelineError(schemas.StatusUnknown, err)
		}
		switch st {
		case schemas.StateReady, schemas.StateRunning:
		case schemas.StateAuthRequired:
			return agent.Pipelinef(schemas.StatusAuthFailed, "interface requires login; log in manually and rerun")
		case schemas.StateRateLimited:
			return agent.Pipelinef(schemas.StatusRateLimited, "provider rate limit active")
		default:
			return agent.Pipelinef(schemas.StatusUnknown, "interface in state %q", st)
		}

		if len(task.FilesToUpload) > 0 {
			if err := r.agent.UploadFiles(ctx, task.FilesToUpload); err != nil {
				return err
			}
		}
		return nil
	}()

	rec.EndedAt = time.Now().UTC()
	if err == nil {
		rec.Outcome = schemas.OutcomeSuccess
		rec.Status = schemas.StatusSuccess
		return rec
	}

	rec.Status = agent.ClassifyError(err)
	rec.Detail = err.Error()
	if rec.Status == schemas.StatusAuthFailed {
		// Login is a manual precondition; retrying cannot fix it.
		rec.Outcome = schemas.OutcomeFatal
	} else {
		rec.Outcome = schemas.OutcomeRetryable
	}
	return rec
}

// agentAttempt sends every configured prompt on the live session and, when
// enabled, harvests and validates artifacts. The escalate flag is set when
// the failure is pipeline-shaped (for example a mid-generation rate limit)
// and retrying on this session would be pointless.
func (r *Runner) agentAttempt(ctx context.Context, task schemas.Task, number int) (schemas.AttemptRecord, []string, bool) {
	rec := schemas.AttemptRecord{
		Tier:      schemas.TierAgent,
		Number:    number,
		StartedAt: time.Now().UTC(),
	}

	var artifacts []string
	err := r.runPrompts(ctx)
	if err == nil && r.cfg.DownloadArtifacts {
		artifacts, err = r.harvest(ctx, task)
	}

	rec.EndedAt = time.Now().UTC()
	if err == nil {
		rec.Outcome = schemas.OutcomeSuccess
		rec.Status = schemas.StatusSuccess
		return rec, artifacts, false
	}

	rec.Detail = err.Error()

	var verr *validate.Error
	if errors.As(err, &verr) {
		rec.Status = verr.Status
	} else {
		rec.Status = agent.ClassifyError(err)
	}
	rec.Outcome = schemas.OutcomeRetryable

	// A pipeline-tier status surfacing mid-generation means the session
	// itself is the problem.
	escalate := !rec.Status.AgentTier()
	return rec, nil, escalate
}

// runPrompts submits the ordered prompt list. Each completion wait is
// bounded by max_wait_per_prompt_seconds, clamped to whatever remains of the
// task budget.
func (r *Runner) runPrompts(ctx context.Context) error {
	for i, prompt := range r.cfg.Prompts {
		number := i + 1
		if err := r.agent.SendPrompt(ctx, prompt, number); err != nil {
			return err
		}

		waitTimeout := r.provider.PromptWait()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < waitTimeout {
				waitTimeout = rem
			}
		}
		pctx, cancel := context.WithTimeout(ctx, waitTimeout)
		_, err := r.agent.WaitForCompletion(pctx, number)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// harvest downloads artifacts to a staging area, validates the workbooks,
// and moves everything into the solutions directory under canonical names.
func (r *Runner) harvest(ctx context.Context, task schemas.Task) ([]string, error) {
	staging, err := os.MkdirTemp(r.dirs.Root, "staging-*")
	if err != nil {
		return nil, agent.NewPipelineError(schemas.StatusUnknown, err)
	}
	defer os.RemoveAll(staging)

	downloaded, err := r.agent.DownloadArtifacts(ctx, staging)
	if err != nil {
		return nil, &validate.Error{
			Status: schemas.StatusDownloadFailed,
			Path:   staging,
			Reason: err.Error(),
		}
	}

	if err := validate.Artifacts(downloaded, r.provider.Validation); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]string, 0, len(downloaded))
	for _, p := range downloaded {
		dst, err := RenameSolution(p, r.dirs.Solutions, task.Name, r.agent.Name(), now)
		if err != nil {
			return nil, &validate.Error{
				Status: schemas.StatusDownloadFailed,
				Path:   p,
				Reason: err.Error(),
			}
		}
		out = append(out, dst)
	}
	return out, nil
}

func (r *Runner) record(result *schemas.TaskResult, alog *AttemptLog, rec schemas.AttemptRecord, logger *zap.Logger) {
	result.Attempts = append(result.Attempts, rec)
	alog.Record(rec)
	logger.Info("Recorded attempt.",
		zap.String("tier", string(rec.Tier)),
		zap.Int("number", rec.Number),
		zap.String("outcome", string(rec.Outcome)),
		zap.String("status", string(rec.Status)),
		zap.Duration("duration", rec.Duration()))
}

// cleanup releases the session on its own clock so an expired task budget
// cannot leak a tab.
func (r *Runner) cleanup(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.agent.Cleanup(ctx); err != nil {
		logger.Warn("Cleanup failed.", zap.Error(err))
	}
}

// pause sleeps between retries, reporting false when the context dies first.
func (r *Runner) pause(ctx context.Context) bool {
	d := r.provider.Retry.RetrySleep()
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
