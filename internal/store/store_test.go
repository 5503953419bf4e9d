// internal/store/store_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
)

// flexibleSQLMatcher builds a whitespace-insensitive regex for SQL matching.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

type argMatcherFunc func(interface{}) bool

func (f argMatcherFunc) Match(v interface{}) bool { return f(v) }

var anyArg = argMatcherFunc(func(interface{}) bool { return true })

func sampleResult() *schemas.TaskResult {
	start := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	return &schemas.TaskResult{
		Task:      schemas.Task{ID: 42, Name: "Budget Model", Source: "wallstreetprep"},
		Status:    schemas.TaskCompleted,
		Artifacts: []string{"/out/solution.xlsx"},
		StartedAt: start,
		EndedAt:   start.Add(30 * time.Minute),
	}
}

func TestSaveAttemptWithKnownTaskID(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	st := NewWithPool(mockPool, zap.NewNop())

	mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO task_attempts`)).
		WithArgs(int64(42), anyArg, anyArg, "Opus 4.5", "gui", anyArg, 30.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = st.SaveAttempt(context.Background(), sampleResult(), AttemptMeta{
		ModelName: "Opus 4.5",
		ModelType: "gui",
	})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveAttemptLooksUpUnknownTask(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	st := NewWithPool(mockPool, zap.NewNop())

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT id FROM tasks`)).
		WithArgs("Budget Model", "wallstreetprep").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO task_attempts`)).
		WithArgs(int64(7), anyArg, anyArg, "Opus 4.5", "gui", anyArg, 30.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	res := sampleResult()
	res.Task.ID = 0
	err = st.SaveAttempt(context.Background(), res, AttemptMeta{ModelName: "Opus 4.5", ModelType: "gui"})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveAttemptMissingCatalogRow(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	st := NewWithPool(mockPool, zap.NewNop())

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT id FROM tasks`)).
		WithArgs("Budget Model", "wallstreetprep").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	res := sampleResult()
	res.Task.ID = 0
	err = st.SaveAttempt(context.Background(), res, AttemptMeta{})
	assert.Error(t, err)
}

func TestSaveAttemptInsertFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	st := NewWithPool(mockPool, zap.NewNop())

	dbErr := errors.New("connection reset")
	mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO task_attempts`)).
		WithArgs(int64(42), anyArg, anyArg, "", "", anyArg, 30.0).
		WillReturnError(dbErr)

	err = st.SaveAttempt(context.Background(), sampleResult(), AttemptMeta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
}
