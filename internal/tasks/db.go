// internal/tasks/db.go
package tasks

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
	"github.com/xkilldash9x/autoprompt-cli/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBSource loads the non-deprecated tasks for one source from the task
// catalog, in name order.
type DBSource struct {
	pool   store.DBPool
	source string
	logger *zap.Logger
}

var _ schemas.TaskSource = (*DBSource)(nil)

// NewDBSource builds a catalog-backed task source.
func NewDBSource(pool store.DBPool, source string, logger *zap.Logger) *DBSource {
	return &DBSource{pool: pool, source: source, logger: logger.Named("task_db")}
}

// Load queries the catalog. Starting files are stored as a JSON array of
// URIs in the task row.
func (s *DBSource) Load(ctx context.Context) ([]schemas.Task, error) {
	const q = `
		SELECT id, task_name, COALESCE(task_starting_files, '[]'::json)
		FROM tasks
		WHERE task_source = $1 AND deprecated = false
		ORDER BY task_name`

	rows, err := s.pool.Query(ctx, q, s.source)
	if err != nil {
		return nil, fmt.Errorf("querying task catalog: %w", err)
	}
	defer rows.Close()

	var out []schemas.Task
	for rows.Next() {
		var (
			id       int64
			name     string
			filesRaw []byte
		)
		if err := rows.Scan(&id, &name, &filesRaw); err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}

		var files []string
		if len(filesRaw) > 0 {
			if err := json.Unmarshal(filesRaw, &files); err != nil {
				s.logger.Warn("Ignoring malformed starting files column.",
					zap.String("task", name), zap.Error(err))
				files = nil
			}
		}

		out = append(out, schemas.Task{
			ID:            id,
			Name:          name,
			Source:        s.source,
			Index:         len(out),
			FilesToUpload: files,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task rows: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no active tasks found for source %q", s.source)
	}

	s.logger.Info("Loaded tasks from catalog.",
		zap.String("source", s.source),
		zap.Int("tasks", len(out)))
	return out, nil
}
