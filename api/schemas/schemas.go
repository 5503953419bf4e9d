// api/schemas/schemas.go
package schemas

import "time"

// AgentState describes what the provider's web interface currently shows.
type AgentState string

const (
	StateReady        AgentState = "ready"
	StateRunning      AgentState = "running"
	StateAuthRequired AgentState = "auth_required"
	StateRateLimited  AgentState = "rate_limited"
	StateError        AgentState = "error"
	StateUnknown      AgentState = "unknown"
)

// TaskStatus classifies the outcome of a single attempt. Agent statuses mean
// the agent phase was reached and the failure belongs to the model/generation
// side; pipeline statuses are infrastructure failures that happen before any
// prompt is sent.
type TaskStatus string

const (
	// Agent-tier statuses.
	StatusSuccess        TaskStatus = "success"
	StatusTimeout        TaskStatus = "timeout"
	StatusPromptFailed   TaskStatus = "prompt_failed"
	StatusDownloadFailed TaskStatus = "download_failed"
	StatusFileCorrupted  TaskStatus = "file_corrupted"
	StatusMissingSheets  TaskStatus = "missing_sheets"

	// Pipeline-tier statuses.
	StatusNavigationFailed TaskStatus = "navigation_failed"
	StatusAuthFailed       TaskStatus = "auth_failed"
	StatusUploadFailed     TaskStatus = "upload_failed"
	StatusRateLimited      TaskStatus = "rate_limited"
	StatusUnknown          TaskStatus = "unknown"
)

// AgentTier reports whether the status belongs to the agent tier of the retry
// machine (and therefore counts against max_agent_attempts).
func (s TaskStatus) AgentTier() bool {
	switch s {
	case StatusSuccess, StatusTimeout, StatusPromptFailed,
		StatusDownloadFailed, StatusFileCorrupted, StatusMissingSheets:
		return true
	}
	return false
}

// AttemptTier identifies which tier of the retry machine an attempt ran in.
type AttemptTier string

const (
	TierPipeline AttemptTier = "pipeline"
	TierAgent    AttemptTier = "agent"
)

// AttemptOutcome is the retry machine's verdict on one attempt.
type AttemptOutcome string

const (
	OutcomeSuccess   AttemptOutcome = "success"
	OutcomeRetryable AttemptOutcome = "retryable-failure"
	OutcomeFatal     AttemptOutcome = "fatal-failure"
)

// AttemptRecord is one entry in a task's attempt history. Records are
// append-only and owned by a single engine invocation.
type AttemptRecord struct {
	Tier      AttemptTier    `json:"tier"`
	Number    int            `json:"number"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Outcome   AttemptOutcome `json:"outcome"`
	Status    TaskStatus     `json:"status"`
	Detail    string         `json:"detail,omitempty"`
}

// Duration returns the wall time the attempt took.
func (r AttemptRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Task is one unit of work: a named prompt run against a provider session.
// Tasks are immutable once loaded from their source.
type Task struct {
	ID            int64    `json:"id,omitempty"`
	Name          string   `json:"name"`
	Source        string   `json:"source"`
	Index         int      `json:"index"`
	FilesToUpload []string `json:"files_to_upload,omitempty"`
}

// FinalStatus is the terminal disposition of a task.
type FinalStatus string

const (
	TaskCompleted FinalStatus = "completed"
	TaskFailed    FinalStatus = "failed"
	TaskSkipped   FinalStatus = "skipped"
)

// ConversationMessage is a single exchange captured from the provider UI.
type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskResult is the single structured record the engine produces per task.
// It is finalized exactly once and immutable afterwards; the batch runner
// owns it from then on.
type TaskResult struct {
	Task         Task                  `json:"task"`
	Status       FinalStatus           `json:"status"`
	SkipReason   string                `json:"skip_reason,omitempty"`
	Attempts     []AttemptRecord       `json:"attempts"`
	Artifacts    []string              `json:"artifacts,omitempty"`
	Conversation []ConversationMessage `json:"conversation,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	EndedAt      time.Time             `json:"ended_at"`
}

// Elapsed returns the total wall time spent on the task, attempts included.
func (tr *TaskResult) Elapsed() time.Duration {
	return tr.EndedAt.Sub(tr.StartedAt)
}

// PipelineAttempts counts the pipeline-tier records in the attempt history.
func (tr *TaskResult) PipelineAttempts() int {
	return tr.countTier(TierPipeline)
}

// AgentAttempts counts the agent-tier records in the attempt history.
func (tr *TaskResult) AgentAttempts() int {
	return tr.countTier(TierAgent)
}

func (tr *TaskResult) countTier(tier AttemptTier) int {
	n := 0
	for _, a := range tr.Attempts {
		if a.Tier == tier {
			n++
		}
	}
	return n
}

// BatchReport aggregates per-task results for one batch run.
type BatchReport struct {
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Results   []TaskResult `json:"results"`
}

// Append adds a result and updates the aggregate counters.
func (b *BatchReport) Append(res TaskResult) {
	b.Results = append(b.Results, res)
	switch res.Status {
	case TaskCompleted:
		b.Completed++
	case TaskSkipped:
		b.Skipped++
	default:
		b.Failed++
	}
}

// Total returns the number of tasks the batch touched.
func (b *BatchReport) Total() int { return len(b.Results) }
