// internal/engine/attemptlog_test.go
package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
)

func TestAttemptLogRecordsAndFinalizes(t *testing.T) {
	dir := t.TempDir()
	task := schemas.Task{Name: "alpha", Source: "src"}

	l := NewAttemptLog(dir, task, "claude_web", zap.NewNop())
	l.Record(schemas.AttemptRecord{
		Tier:    schemas.TierPipeline,
		Number:  1,
		Outcome: schemas.OutcomeSuccess,
		Status:  schemas.StatusSuccess,
	})
	l.Record(schemas.AttemptRecord{
		Tier:    schemas.TierAgent,
		Number:  1,
		Outcome: schemas.OutcomeRetryable,
		Status:  schemas.StatusTimeout,
	})
	l.Finalize(schemas.TaskFailed)

	doc, err := loadAttemptLog(l.Path())
	require.NoError(t, err)
	assert.Equal(t, "alpha", doc.TaskName)
	assert.Equal(t, "claude_web", doc.AgentName)
	assert.Equal(t, schemas.TaskFailed, doc.FinalStatus)
	require.Len(t, doc.Attempts, 2)
	assert.Equal(t, schemas.StatusTimeout, doc.Attempts[1].Status)
	assert.False(t, doc.Deprecated)
}

func TestAttemptLogDeprecatesOlderLogs(t *testing.T) {
	dir := t.TempDir()
	task := schemas.Task{Name: "alpha"}

	first := NewAttemptLog(dir, task, "claude_web", zap.NewNop())
	first.Finalize(schemas.TaskFailed)

	// A later run for the same task supersedes the first log. The filename
	// carries a second-resolution timestamp, so force a distinct name.
	time.Sleep(1100 * time.Millisecond)
	second := NewAttemptLog(dir, task, "claude_web", zap.NewNop())

	firstDoc, err := loadAttemptLog(first.Path())
	require.NoError(t, err)
	assert.True(t, firstDoc.Deprecated)

	secondDoc, err := loadAttemptLog(second.Path())
	require.NoError(t, err)
	assert.False(t, secondDoc.Deprecated)

	// Logs for other tasks are untouched.
	other := NewAttemptLog(dir, schemas.Task{Name: "beta"}, "claude_web", zap.NewNop())
	otherDoc, err := loadAttemptLog(other.Path())
	require.NoError(t, err)
	assert.False(t, otherDoc.Deprecated)
	refreshed, err := loadAttemptLog(second.Path())
	require.NoError(t, err)
	assert.False(t, refreshed.Deprecated)
}
