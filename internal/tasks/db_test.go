// internal/tasks/db_test.go
package tasks

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sqlMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func TestDBSourceLoad(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	rows := pgxmock.NewRows([]string{"id", "task_name", "task_starting_files"}).
		AddRow(int64(1), "Alpha", []byte(`["s3://bucket/a.xlsx"]`)).
		AddRow(int64(2), "Beta", []byte(`[]`))
	mockPool.ExpectQuery(sqlMatcher(`SELECT id, task_name`)).
		WithArgs("wallstreetprep").
		WillReturnRows(rows)

	src := NewDBSource(mockPool, "wallstreetprep", zap.NewNop())
	got, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "Alpha", got[0].Name)
	assert.Equal(t, "wallstreetprep", got[0].Source)
	assert.Equal(t, []string{"s3://bucket/a.xlsx"}, got[0].FilesToUpload)
	assert.Equal(t, 0, got[0].Index)

	assert.Equal(t, "Beta", got[1].Name)
	assert.Empty(t, got[1].FilesToUpload)
	assert.Equal(t, 1, got[1].Index)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestDBSourceMalformedFilesColumn(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	rows := pgxmock.NewRows([]string{"id", "task_name", "task_starting_files"}).
		AddRow(int64(1), "Alpha", []byte(`not json`))
	mockPool.ExpectQuery(sqlMatcher(`SELECT id, task_name`)).
		WithArgs("s").
		WillReturnRows(rows)

	got, err := NewDBSource(mockPool, "s", zap.NewNop()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].FilesToUpload)
}

func TestDBSourceNoTasks(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectQuery(sqlMatcher(`SELECT id, task_name`)).
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"id", "task_name", "task_starting_files"}))

	_, err = NewDBSource(mockPool, "ghost", zap.NewNop()).Load(context.Background())
	assert.Error(t, err)
}

func TestDBSourceQueryFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	dbErr := errors.New("connection refused")
	mockPool.ExpectQuery(sqlMatcher(`SELECT id, task_name`)).
		WithArgs("s").
		WillReturnError(dbErr)

	_, err = NewDBSource(mockPool, "s", zap.NewNop()).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
}
