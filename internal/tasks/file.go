// internal/tasks/file.go

// Package tasks loads ordered task lists from YAML files or from the
// relational task catalog.
package tasks

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
)

// FileSource reads tasks from a YAML file. Entries are either bare names or
// maps with per-task starting files.
type FileSource struct {
	path   string
	logger *zap.Logger
}

var _ schemas.TaskSource = (*FileSource)(nil)

// NewFileSource builds a loader for the given task file.
func NewFileSource(path string, logger *zap.Logger) *FileSource {
	return &FileSource{path: path, logger: logger.Named("task_file")}
}

type taskFile struct {
	TaskSource string      `yaml:"task_source"`
	Tasks      []taskEntry `yaml:"tasks"`
}

type taskEntry struct {
	Name          string
	FilesToUpload []string
}

// UnmarshalYAML accepts both a bare task name and a full task map.
func (e *taskEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&e.Name)
	}

	var m struct {
		Name          string   `yaml:"name"`
		TaskName      string   `yaml:"task_name"`
		FilesToUpload []string `yaml:"files_to_upload"`
	}
	if err := value.Decode(&m); err != nil {
		return err
	}
	e.Name = m.Name
	if e.Name == "" {
		e.Name = m.TaskName
	}
	e.FilesToUpload = m.FilesToUpload
	return nil
}

// Load parses the file and returns tasks in file order.
func (s *FileSource) Load(_ context.Context) ([]schemas.Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}

	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing task file %s: %w", s.path, err)
	}
	if len(tf.Tasks) == 0 {
		return nil, fmt.Errorf("task file %s contains no tasks", s.path)
	}

	out := make([]schemas.Task, 0, len(tf.Tasks))
	for i, e := range tf.Tasks {
		if e.Name == "" {
			return nil, fmt.Errorf("task file %s: entry %d has no name", s.path, i)
		}
		out = append(out, schemas.Task{
			Name:          e.Name,
			Source:        tf.TaskSource,
			Index:         i,
			FilesToUpload: e.FilesToUpload,
		})
	}

	s.logger.Info("Loaded task file.",
		zap.String("path", s.path),
		zap.String("source", tf.TaskSource),
		zap.Int("tasks", len(out)))
	return out, nil
}
