// internal/sink/store.go
package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
	"github.com/xkilldash9x/autoprompt-cli/internal/store"
)

// StoreSink records each finished task as a task_attempts row.
type StoreSink struct {
	store  *store.Store
	meta   store.AttemptMeta
	logger *zap.Logger
}

var _ schemas.ResultSink = (*StoreSink)(nil)

// NewStoreSink wraps a connected store with run-level attempt metadata.
func NewStoreSink(st *store.Store, meta store.AttemptMeta, logger *zap.Logger) *StoreSink {
	return &StoreSink{store: st, meta: meta, logger: logger.Named("store_sink")}
}

// Offer persists the attempt. Skipped tasks produce no row.
func (s *StoreSink) Offer(ctx context.Context, result *schemas.TaskResult) error {
	if result.Status == schemas.TaskSkipped {
		s.logger.Debug("Skipping store write for skipped task.", zap.String("task", result.Task.Name))
		return nil
	}
	return s.store.SaveAttempt(ctx, result, s.meta)
}
