// api/schemas/interfaces.go
package schemas

import "context"

// Agent is the uniform lifecycle contract every provider variant satisfies.
// The engine drives both providers through this interface and never learns
// which site it is talking to.
//
// Lifecycle order: Launch, Navigate, CheckAuth, UploadFiles form the pipeline
// phase; SendPrompt, WaitForCompletion, DownloadArtifacts form the agent
// phase. Cleanup must be safe to call on every exit path, including after a
// failed Launch.
type Agent interface {
	// Name returns the provider key, e.g. "claude_web".
	Name() string

	// Launch acquires a browser session (a fresh tab on the shared remote
	// browser). Fails when nothing is listening on the debugging endpoint.
	Launch(ctx context.Context) error

	// Navigate loads the provider's entry point for a new conversation.
	Navigate(ctx context.Context) error

	// CheckAuth inspects the page and reports the interface state. The
	// engine treats anything but StateReady as fatal for the task: this
	// tool never performs a login flow.
	CheckAuth(ctx context.Context) (AgentState, error)

	// UploadFiles attaches the task's starting files to the conversation.
	UploadFiles(ctx context.Context, paths []string) error

	// SendPrompt submits one prompt from the configured ordered list.
	SendPrompt(ctx context.Context, prompt string, number int) error

	// WaitForCompletion blocks until the provider reaches a terminal UI
	// state for the given prompt or ctx expires, and returns the extracted
	// response text.
	WaitForCompletion(ctx context.Context, number int) (string, error)

	// DownloadArtifacts harvests generated files into dir and returns the
	// local paths.
	DownloadArtifacts(ctx context.Context, dir string) ([]string, error)

	// ConversationHistory returns the messages exchanged so far.
	ConversationHistory() []ConversationMessage

	// HealthCheck is a cheap liveness probe on the underlying session. The
	// engine uses it to decide between an agent-tier retry and a full
	// pipeline restart.
	HealthCheck(ctx context.Context) error

	// Cleanup releases the browser session. Idempotent.
	Cleanup(ctx context.Context) error
}

// ResultSink receives finalized task results for persistence or upload.
// Sinks are fire-and-forget with respect to task status: a sink error is
// logged by the caller and never changes the result.
type ResultSink interface {
	Offer(ctx context.Context, result *TaskResult) error
}

// TaskSource yields an ordered task list. Order must be stable across calls.
type TaskSource interface {
	Load(ctx context.Context) ([]Task, error)
}
