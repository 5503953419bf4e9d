// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
)

// PipelineError classifies a failure that happened before any prompt was
// sent. The retry machine uses the carried status to pick a tier and to
// decide whether the failure is worth retrying at all.
type PipelineError struct {
	Status schemas.TaskStatus
	Err    error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Status, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError wraps err with a pipeline status.
func NewPipelineError(status schemas.TaskStatus, err error) *PipelineError {
	return &PipelineError{Status: status, Err: err}
}

// Pipelinef builds a classified error from a format string.
func Pipelinef(status schemas.TaskStatus, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Status: status, Err: fmt.Errorf(format, args...)}
}

// ClassifyError maps an error to a task status. Classified errors keep their
// status; a dead context is a timeout; everything else is an agent-side
// prompt failure.
func ClassifyError(err error) schemas.TaskStatus {
	if err == nil {
		return schemas.StatusSuccess
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Status
	}
	if errors.Is(err, errTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return schemas.StatusTimeout
	}
	return schemas.StatusPromptFailed
}

// errTimeout marks a completion wait that ran out of time. Context
// cancellation from above is wrapped with this so the status taxonomy stays
// stable.
var errTimeout = errors.New("completion wait timed out")
