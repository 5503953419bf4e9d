// internal/sink/sink_test.go
package sink

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
	"github.com/xkilldash9x/autoprompt-cli/internal/store"
)

type fakeSink struct {
	mu     sync.Mutex
	offers int
	err    error
}

func (f *fakeSink) Offer(_ context.Context, _ *schemas.TaskResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return f.err
}

func TestMultiFansOutToAllSinks(t *testing.T) {
	a, b := &fakeSink{}, &fakeSink{}
	m := NewMulti(zap.NewNop())
	m.Add("a", a)
	m.Add("b", b)

	res := &schemas.TaskResult{Task: schemas.Task{Name: "t"}, Status: schemas.TaskCompleted}
	require.NoError(t, m.Offer(context.Background(), res))

	assert.Equal(t, 1, a.offers)
	assert.Equal(t, 1, b.offers)
	assert.Equal(t, 2, m.Len())
}

func TestMultiSwallowsBackendErrors(t *testing.T) {
	broken := &fakeSink{err: errors.New("backend down")}
	healthy := &fakeSink{}
	m := NewMulti(zap.NewNop())
	m.Add("broken", broken)
	m.Add("healthy", healthy)

	res := &schemas.TaskResult{Task: schemas.Task{Name: "t"}, Status: schemas.TaskCompleted}
	err := m.Offer(context.Background(), res)

	// The failure is logged, not propagated, and later sinks still run.
	assert.NoError(t, err)
	assert.Equal(t, 1, healthy.offers)
}

func TestMultiEmptyIsNoop(t *testing.T) {
	m := NewMulti(zap.NewNop())
	res := &schemas.TaskResult{Task: schemas.Task{Name: "t"}}
	assert.NoError(t, m.Offer(context.Background(), res))
}

func TestStoreSinkSkipsSkippedTasks(t *testing.T) {
	// A nil store is safe here: skipped results return before touching it.
	s := NewStoreSink(nil, store.AttemptMeta{}, zap.NewNop())
	res := &schemas.TaskResult{
		Task:       schemas.Task{Name: "t"},
		Status:     schemas.TaskSkipped,
		SkipReason: "dry-run",
	}
	assert.NoError(t, s.Offer(context.Background(), res))
}

func TestBlobSinkKeyShapes(t *testing.T) {
	b := &BlobSink{agentName: "claude_web", prefix: "attempts", logger: zap.NewNop()}
	res := &schemas.TaskResult{
		Task: schemas.Task{Name: "Budget Model", Source: "wallstreetprep"},
	}

	key := b.artifactKey(res, "/tmp/out/solution v2.xlsx")
	assert.Equal(t, "attempts/claude_web/wallstreetprep/Budget_Model/solution v2.xlsx", key)

	res.Task.Source = ""
	key = b.artifactKey(res, "/tmp/x.xlsx")
	assert.Equal(t, "attempts/claude_web/unsourced/Budget_Model/x.xlsx", key)

	conv := b.conversationKey(res)
	assert.Contains(t, conv, "claude_web_conversations/")
	assert.Contains(t, conv, "_Budget_Model.json")
}
