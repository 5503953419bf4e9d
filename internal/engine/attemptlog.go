// internal/engine/attemptlog.go
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AttemptLog is the on-disk JSON attempt history for one task. The file is
// rewritten on every state change so a crash mid-task still leaves an
// accurate record. Starting a fresh log marks any earlier log for the same
// task as deprecated.
type AttemptLog struct {
	path   string
	logger *zap.Logger
	doc    attemptLogDoc
}

type attemptLogDoc struct {
	TaskName    string                  `json:"task_name"`
	TaskSource  string                  `json:"task_source,omitempty"`
	AgentName   string                  `json:"agent_name"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
	Deprecated  bool                    `json:"deprecated"`
	FinalStatus schemas.FinalStatus     `json:"final_status,omitempty"`
	Attempts    []schemas.AttemptRecord `json:"attempts"`
}

// NewAttemptLog opens a fresh log in dir and deprecates older logs for the
// same task. Failure to write is reported but never blocks the run.
func NewAttemptLog(dir string, task schemas.Task, agentName string, logger *zap.Logger) *AttemptLog {
	now := time.Now().UTC()
	name := fmt.Sprintf("%s_%s_attempts.json", now.Format("20060102_150405"), sanitizeName(task.Name))

	l := &AttemptLog{
		path:   filepath.Join(dir, name),
		logger: logger.Named("attempt_log"),
		doc: attemptLogDoc{
			TaskName:   task.Name,
			TaskSource: task.Source,
			AgentName:  agentName,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	l.deprecateOlder(dir, task.Name)
	l.flush()
	return l
}

// Record appends an attempt and rewrites the file.
func (l *AttemptLog) Record(rec schemas.AttemptRecord) {
	l.doc.Attempts = append(l.doc.Attempts, rec)
	l.flush()
}

// Finalize stamps the terminal status and rewrites one last time.
func (l *AttemptLog) Finalize(status schemas.FinalStatus) {
	l.doc.FinalStatus = status
	l.flush()
}

// Path returns the log file location.
func (l *AttemptLog) Path() string {
	return l.path
}

func (l *AttemptLog) flush() {
	l.doc.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(l.doc, "", "  ")
	if err != nil {
		l.logger.Warn("Failed to encode attempt log.", zap.Error(err))
		return
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		l.logger.Warn("Failed to write attempt log.", zap.String("path", l.path), zap.Error(err))
	}
}

// deprecateOlder rewrites earlier logs for the same task with the deprecated
// flag set.
func (l *AttemptLog) deprecateOlder(dir, taskName string) {
	pattern := filepath.Join(dir, "*_"+sanitizeName(taskName)+"_attempts.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, m := range matches {
		if m == l.path {
			continue
		}
		if err := markDeprecated(m); err != nil {
			l.logger.Debug("Could not deprecate old attempt log.",
				zap.String("path", m), zap.Error(err))
		}
	}
}

func markDeprecated(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc attemptLogDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Deprecated {
		return nil
	}
	doc.Deprecated = true
	doc.UpdatedAt = time.Now().UTC()
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// loadAttemptLog reads a log back. Used by tests and the deprecation pass.
func loadAttemptLog(path string) (attemptLogDoc, error) {
	var doc attemptLogDoc
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}
