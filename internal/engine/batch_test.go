// internal/engine/batch_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
)

type recordingSink struct {
	mu      sync.Mutex
	offered []string
	err     error
}

func (s *recordingSink) Offer(_ context.Context, res *schemas.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offered = append(s.offered, res.Task.Name)
	return s.err
}

func makeTasks(n int) []schemas.Task {
	out := make([]schemas.Task, n)
	for i := range out {
		out[i] = schemas.Task{Name: fmt.Sprintf("task-%02d", i), Index: i}
	}
	return out
}

func testBatch(t *testing.T, ag schemas.Agent, s schemas.ResultSink) (*BatchRunner, RunDirs) {
	t.Helper()
	cfg := testConfig(t)
	dirs, err := CreateRunDirs(t.TempDir(), "test", time.Now())
	require.NoError(t, err)
	runner := NewRunner(ag, cfg, dirs, zap.NewNop())
	return NewBatchRunner(runner, s, dirs, zap.NewNop()), dirs
}

func TestBatchSlicing(t *testing.T) {
	ag := newScriptedAgent()
	s := &recordingSink{}
	b, _ := testBatch(t, ag, s)

	report, err := b.RunAll(context.Background(), makeTasks(10), BatchOptions{Start: 3, End: 6})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total())
	assert.Equal(t, []string{"task-03", "task-04", "task-05"}, s.offered)
	assert.Equal(t, 3, report.Completed)
}

func TestBatchSliceValidation(t *testing.T) {
	ag := newScriptedAgent()
	b, _ := testBatch(t, ag, nil)

	_, err := b.RunAll(context.Background(), makeTasks(3), BatchOptions{Start: -1})
	assert.Error(t, err)

	_, err = b.RunAll(context.Background(), makeTasks(3), BatchOptions{Start: 5, End: 3})
	assert.Error(t, err)
}

func TestBatchDryRunTouchesNothing(t *testing.T) {
	ag := newScriptedAgent()
	s := &recordingSink{}
	b, _ := testBatch(t, ag, s)

	report, err := b.RunAll(context.Background(), makeTasks(4), BatchOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Skipped)
	assert.Equal(t, 0, report.Completed)
	for _, res := range report.Results {
		assert.Equal(t, schemas.TaskSkipped, res.Status)
		assert.Equal(t, "dry-run", res.SkipReason)
	}
	// The agent was never touched.
	assert.Equal(t, 0, ag.count("launch"))
	assert.Equal(t, 0, ag.count("send"))
	assert.Equal(t, 0, ag.count("cleanup"))
	// Skipped results still reach the sink.
	assert.Len(t, s.offered, 4)
}

func TestBatchFailingSinkDoesNotChangeStatus(t *testing.T) {
	ag := newScriptedAgent()
	s := &recordingSink{err: errors.New("storage is down")}
	b, _ := testBatch(t, ag, s)

	report, err := b.RunAll(context.Background(), makeTasks(2), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 0, report.Failed)
	assert.Len(t, s.offered, 2)
}

func TestBatchStopOnFailure(t *testing.T) {
	ag := newScriptedAgent()
	// First task fails fatally at auth, second would succeed.
	ag.authStates = []schemas.AgentState{schemas.StateAuthRequired}
	b, _ := testBatch(t, ag, nil)

	report, err := b.RunAll(context.Background(), makeTasks(3), BatchOptions{StopOnFailure: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Total())
	assert.Equal(t, 1, report.Failed)
}

func TestBatchContinuesPastFailureByDefault(t *testing.T) {
	ag := newScriptedAgent()
	ag.authStates = []schemas.AgentState{schemas.StateAuthRequired}
	b, _ := testBatch(t, ag, nil)

	report, err := b.RunAll(context.Background(), makeTasks(3), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total())
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Completed)
}

func TestBatchWritesReport(t *testing.T) {
	ag := newScriptedAgent()
	b, dirs := testBatch(t, ag, nil)

	report, err := b.RunAll(context.Background(), makeTasks(2), BatchOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, report.Total())

	data, err := os.ReadFile(filepath.Join(dirs.Root, "batch_report.json"))
	require.NoError(t, err)

	var decoded schemas.BatchReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 2, decoded.Total())
	assert.Equal(t, 2, decoded.Completed)
}
