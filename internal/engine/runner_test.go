// internal/engine/runner_test.go
package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
	"github.com/xkilldash9x/autoprompt-cli/internal/agent"
	"github.com/xkilldash9x/autoprompt-cli/internal/config"
)

// scriptedAgent is a hand-rolled fake. Each error queue is consumed one
// entry per call; an exhausted queue means success.
type scriptedAgent struct {
	mu sync.Mutex

	launchErrs   []error
	navigateErrs []error
	authStates   []schemas.AgentState
	uploadErrs   []error
	sendErrs     []error
	waitErrs     []error
	healthErrs   []error

	// blockOnWait makes WaitForCompletion hang until its context dies.
	blockOnWait bool

	downloadFn func(dir string) ([]string, error)

	counts map[string]int
}

func newScriptedAgent() *scriptedAgent {
	return &scriptedAgent{counts: make(map[string]int)}
}

func (a *scriptedAgent) bump(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[name]++
}

func (a *scriptedAgent) count(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[name]
}

func (a *scriptedAgent) pop(q *[]error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

func (a *scriptedAgent) Name() string { return "scripted" }

func (a *scriptedAgent) Launch(ctx context.Context) error {
	a.bump("launch")
	return a.pop(&a.launchErrs)
}

func (a *scriptedAgent) Navigate(ctx context.Context) error {
	a.bump("navigate")
	return a.pop(&a.navigateErrs)
}

func (a *scriptedAgent) CheckAuth(ctx context.Context) (schemas.AgentState, error) {
	a.bump("checkauth")
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.authStates) == 0 {
		return schemas.StateReady, nil
	}
	st := a.authStates[0]
	a.authStates = a.authStates[1:]
	return st, nil
}

func (a *scriptedAgent) UploadFiles(ctx context.Context, paths []string) error {
	a.bump("upload")
	return a.pop(&a.uploadErrs)
}

func (a *scriptedAgent) SendPrompt(ctx context.Context, prompt string, number int) error {
	a.bump("send")
	return a.pop(&a.sendErrs)
}

func (a *scriptedAgent) WaitForCompletion(ctx context.Context, number int) (string, error) {
	a.bump("wait")
	if a.blockOnWait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := a.pop(&a.waitErrs); err != nil {
		return "", err
	}
	return "response", nil
}

func (a *scriptedAgent) DownloadArtifacts(ctx context.Context, dir string) ([]string, error) {
	a.bump("download")
	if a.downloadFn != nil {
		return a.downloadFn(dir)
	}
	return nil, nil
}

func (a *scriptedAgent) ConversationHistory() []schemas.ConversationMessage {
	return []schemas.ConversationMessage{{Role: "user", Content: "p"}}
}

func (a *scriptedAgent) HealthCheck(ctx context.Context) error {
	a.bump("health")
	return a.pop(&a.healthErrs)
}

func (a *scriptedAgent) Cleanup(ctx context.Context) error {
	a.bump("cleanup")
	return nil
}

var _ schemas.Agent = (*scriptedAgent)(nil)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.AgentType = config.ProviderClaude
	cfg.Prompts = []string{"do the thing"}
	cfg.DownloadArtifacts = false
	cfg.ClaudeWeb.Retry.MaxAgentAttempts = 3
	cfg.ClaudeWeb.Retry.MaxTotalAttempts = 4
	cfg.ClaudeWeb.Retry.SleepBetweenRetries = 0
	cfg.ClaudeWeb.MaxSecPerTask = 0
	cfg.ClaudeWeb.Validation.Enabled = false
	return cfg
}

func testRunner(t *testing.T, ag schemas.Agent, cfg *config.Config) *Runner {
	t.Helper()
	dirs, err := CreateRunDirs(t.TempDir(), "test", time.Now())
	require.NoError(t, err)
	return NewRunner(ag, cfg, dirs, zap.NewNop())
}

func TestRunTaskFirstTrySuccess(t *testing.T) {
	ag := newScriptedAgent()
	r := testRunner(t, ag, testConfig(t))

	res := r.RunTask(context.Background(), schemas.Task{Name: "t1"})

	assert.Equal(t, schemas.TaskCompleted, res.Status)
	assert.Equal(t, 1, res.PipelineAttempts())
	assert.Equal(t, 1, res.AgentAttempts())
	assert.Equal(t, 1, ag.count("launch"))
	assert.Equal(t, 1, ag.count("cleanup"))
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, schemas.OutcomeSuccess, res.Attempts[0].Outcome)
	assert.Equal(t, schemas.OutcomeSuccess, res.Attempts[1].Outcome)
	assert.NotEmpty(t, res.Conversation)
}

func TestRunTaskAgentRetrySameSession(t *testing.T) {
	ag := newScriptedAgent()
	ag.waitErrs = []error{errors.New("flaky response")}
	r := testRunner(t, ag, testConfig(t))

	res := r.RunTask(context.Background(), schemas.Task{Name: "t1"})

	assert.Equal(t, schemas.TaskCompleted, res.Status)
	// One session served both agent attempts.
	assert.Equal(t, 1, ag.count("launch"))
	assert.Equal(t, 2, res.AgentAttempts())
	assert.Equal(t, 1, res.PipelineAttempts())
	assert.Equal(t, schemas.StatusPromptFailed, res.Attempts[1].Status)
}

func TestRunTaskUnhealthySessionEscalates(t *testing.T) {
	ag := newScriptedAgent()
	ag.waitErrs = []error{errors.New("boom")}
	ag.healthErrs = []error{errors.New("tab is gone")}
	r := testRunner(t, ag, testConfig(t))

	res := r.RunTask(context.Background(), schemas.Task{Name: "t1"})

	assert.Equal(t, schemas.TaskCompleted, res.Status)
	// Escalation restarted the pipeline with a fresh session.
	assert.Equal(t, 2, ag.count("launch"))
	assert.Equal(t, 2, res.PipelineAttempts())
	assert.Equal(t, 2, ag.count("cleanup"))
}

func TestRunTaskMidGenerationRateLimitEscalates(t *testing.T) {
	ag := newScriptedAgent()
	ag.waitErrs = []error{agent.Pipelinef(schemas.StatusRateLimited, "usage limit reached")}
	r := testRunner(t, ag, testConfig(t))

	res := r.RunTask(context.Background(), schemas.Task{Name: "t1"})

	assert.Equal(t, schemas.TaskCompleted, res.Status)
	// The rate limit skipped the remaining agent budget and restarted the
	// pipeline on a fresh session, without consulting the health probe.
	assert.Equal(t, 2, ag.count("launch"))
	assert.Equal(t, 2, res.PipelineAttempts())
	assert.Equal(t, 0, ag.count("health"))
	assert.Equal(t, schemas.StatusRateLimited, res.Attempts[1].Status)
	assert.Equal(t, schemas.TierAgent, res.Attempts[1].Tier)
}

func TestRunTaskNoPauseAfterFinalAttempt(t *testing.T) {
	ag := newScriptedAgent()
	ag.waitErrs = []error{errors.New("still broken")}
	cfg := testConfig(t)
	cfg.ClaudeWeb.Retry.MaxAgentAttempts = 1
	cfg.ClaudeWeb.Retry.MaxTotalAttempts = 1
	cfg.ClaudeWeb.Retry.SleepBetweenRetries = 5
	r := testRunner(t, ag, cfg)

	start := time.Now()
	res := r.RunTask(context.Background(), schemas.Task{Name: "t1"})

	assert.Equal(t, schemas.TaskFailed, res.Status)
	// Nothing follows the last attempt, so the retry sleep must not run.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunTaskAuthRequiredIsFatal(t *testing.T) {
	ag := newScriptedAgent()
	ag.authStates = []schemas.AgentState{schemas.StateAuthRequired}
	r := testRunner(t, ag, testConfig(t))

	res := r.RunTask(context.Background(), schemas.Task{Name: "t1"})

	assert.Equal(t, schemas.TaskFailed, res.Status)
	assert.Equal(t, 0, res.AgentAttempts())
	assert.Equal(t, 1, res.PipelineAttempts())
	assert.Equal(t, schemas.StatusAuthFailed, res.Attempts[0].Status)
	assert.Equal(t, schemas.OutcomeFatal, res.Attempts[0].Outcome)
	// No retry after a fatal failure.
	assert.Equal(t, 1, ag.count("launch"))
	assert.Equal(t, 1, ag.count("cleanup"))
}

func TestRunTaskPipelineRetryAfterNavigationFailure(t *testing.T) {
	ag := newScriptedAgent()
	ag.navigateErrs = []error{agent.Pipelinef(schemas.StatusNavigationFailed, "dns sadness")}
	r := testRunner(t, ag, testConfig(t))

	res := r.RunTask(context.Background(), schemas.Task{Name: "t1"})

	assert.Equal(t, schemas.TaskCompleted, res.Status)
	assert.Equal(t, 2, res.PipelineAttempts())
	assert.Equal(t, schemas.StatusNavigationFailed, res.Attempts[0].Status)
	assert.Equal(t, 2, ag.count("launch"))
}

func TestRunTaskAgentExhaustionEscalatesThenFails(t *testing.T) {
	ag := newScriptedAgent()
	// Every wait fails, every session stays healthy: agent budget burns down,
	// escalates to pipeline cycles, and the total budget runs out.
	ag.waitErrs = nil
	ag.blockOnWait = false
	for i := 0; i < 100; i++ {
		ag.waitErrs = append(ag.waitErrs, errors.New("always broken"))
	}
	cfg := testConfig(t)
	cfg.ClaudeWeb.Retry.MaxAgentAttempts = 2
	cfg.ClaudeWeb.Retry.MaxTotalAttempts = 3
	r := testRunner(t, ag, cfg)

	res := r.RunTask(context.Background(), schemas.Task{Name: "t1"})

	assert.Equal(t, schemas.TaskFailed, res.Status)
	assert.Equal(t, 3, res.PipelineAttempts())
	assert.Equal(t, 6, res.AgentAttempts())
	// Cleanup ran once per pipeline attempt.
	assert.Equal(t, 3, ag.count("cleanup"))
	// Agent attempt numbers are cumulative across cycles.
	last := res.Attempts[len(res.Attempts)-1]
	assert.Equal(t, schemas.TierAgent, last.Tier)
	assert.Equal(t, 6, last.Number)
}

func TestRunTaskBudgetTimeout(t *testing.T) {
	ag := newScriptedAgent()
	ag.blockOnWait = true
	cfg := testConfig(t)
	cfg.ClaudeWeb.MaxSecPerTask = 1
	cfg.ClaudeWeb.MaxWaitPerPromptSeconds = 3600
	r := testRunner(t, ag, cfg)

	start := time.Now()
	res := r.RunTask(context.Background(), schemas.Task{Name: "t1"})

	assert.Equal(t, schemas.TaskFailed, res.Status)
	// The per-prompt wait was clamped by the task budget.
	assert.Less(t, time.Since(start), 10*time.Second)
	var sawTimeout bool
	for _, a := range res.Attempts {
		if a.Status == schemas.StatusTimeout {
			sawTimeout = true
		}
	}
	assert.True(t, sawTimeout, "expected a timeout-classified attempt, got %+v", res.Attempts)
	assert.GreaterOrEqual(t, ag.count("cleanup"), 1)
}

func TestRunTaskHarvestRenamesArtifacts(t *testing.T) {
	ag := newScriptedAgent()
	ag.downloadFn = func(dir string) ([]string, error) {
		p := dir + "/raw_output.txt"
		require.NoError(t, writeFile(p, []byte("data")))
		return []string{p}, nil
	}
	cfg := testConfig(t)
	cfg.DownloadArtifacts = true
	r := testRunner(t, ag, cfg)

	res := r.RunTask(context.Background(), schemas.Task{Name: "Budget Model"})

	require.Equal(t, schemas.TaskCompleted, res.Status)
	require.Len(t, res.Artifacts, 1)
	assert.Contains(t, res.Artifacts[0], "Budget_Model_Solution_scripted_Model")
	assert.Contains(t, res.Artifacts[0], "solutions")
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
