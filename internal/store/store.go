// internal/store/store.go

// Package store persists task attempts to the relational task catalog.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts the pgx pool so tests can substitute a mock.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes attempt rows keyed against the shared tasks table.
type Store struct {
	pool   DBPool
	logger *zap.Logger
}

// New connects a pgx pool to databaseURL and verifies it with a ping.
func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return NewWithPool(pool, logger), nil
}

// NewWithPool wraps an existing pool. Tests inject pgxmock here.
func NewWithPool(pool DBPool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger.Named("store")}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the connection pool for collaborators that share it, like the
// catalog task source.
func (s *Store) Pool() DBPool {
	return s.pool
}

// LookupTaskID resolves a task name and source to its catalog row.
func (s *Store) LookupTaskID(ctx context.Context, name, source string) (int64, error) {
	const q = `SELECT id FROM tasks WHERE task_name = $1 AND task_source = $2 AND deprecated = false`

	var id int64
	if err := s.pool.QueryRow(ctx, q, name, source).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("task %q (source %q) not found in catalog", name, source)
		}
		return 0, fmt.Errorf("looking up task %q: %w", name, err)
	}
	return id, nil
}

// AttemptMeta carries the run-level metadata that is not part of the result
// itself.
type AttemptMeta struct {
	ModelName   string
	ModelType   string
	PromptFiles []string
}

// SaveAttempt inserts one task_attempts row for a finished task.
func (s *Store) SaveAttempt(ctx context.Context, result *schemas.TaskResult, meta AttemptMeta) error {
	taskID := result.Task.ID
	if taskID == 0 {
		id, err := s.LookupTaskID(ctx, result.Task.Name, result.Task.Source)
		if err != nil {
			return err
		}
		taskID = id
	}

	promptFiles, err := json.Marshal(meta.PromptFiles)
	if err != nil {
		return fmt.Errorf("encoding prompt files: %w", err)
	}
	attemptFiles, err := json.Marshal(result.Artifacts)
	if err != nil {
		return fmt.Errorf("encoding attempt files: %w", err)
	}
	startEnd, err := json.Marshal(map[string]time.Time{
		"start": result.StartedAt,
		"end":   result.EndedAt,
	})
	if err != nil {
		return fmt.Errorf("encoding start/end times: %w", err)
	}

	const q = `
		INSERT INTO task_attempts
			(task_id, prompt_files, start_end_times, agent_model_name, agent_model_type, attempt_files, time_taken_mins)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, q,
		taskID,
		promptFiles,
		startEnd,
		meta.ModelName,
		meta.ModelType,
		attemptFiles,
		result.Elapsed().Minutes(),
	)
	if err != nil {
		return fmt.Errorf("inserting task attempt: %w", err)
	}

	s.logger.Info("Saved task attempt.",
		zap.Int64("task_id", taskID),
		zap.String("status", string(result.Status)),
		zap.Float64("minutes", result.Elapsed().Minutes()))
	return nil
}
