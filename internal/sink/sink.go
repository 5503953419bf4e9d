// internal/sink/sink.go

// Package sink delivers finalized task results to storage backends. Sinks
// are strictly fire-and-forget: a delivery failure is logged and swallowed,
// and never changes a task's status.
package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
)

// Multi fans a result out to every configured backend. Offer never returns
// an error; each backend failure is logged under the backend's name.
type Multi struct {
	logger *zap.Logger
	sinks  []namedSink
}

type namedSink struct {
	name string
	sink schemas.ResultSink
}

// NewMulti builds an empty fan-out.
func NewMulti(logger *zap.Logger) *Multi {
	return &Multi{logger: logger.Named("sink")}
}

// Add registers a backend under a name used in failure logs.
func (m *Multi) Add(name string, s schemas.ResultSink) {
	m.sinks = append(m.sinks, namedSink{name: name, sink: s})
}

// Len reports how many backends are registered.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Offer delivers the result to every backend sequentially.
func (m *Multi) Offer(ctx context.Context, result *schemas.TaskResult) error {
	for _, ns := range m.sinks {
		if err := ns.sink.Offer(ctx, result); err != nil {
			m.logger.Warn("Result sink failed; continuing.",
				zap.String("sink", ns.name),
				zap.String("task", result.Task.Name),
				zap.Error(err))
		}
	}
	return nil
}

var _ schemas.ResultSink = (*Multi)(nil)
