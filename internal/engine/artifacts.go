// internal/engine/artifacts.go
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunDirs is the date-organized output layout for one batch run. Solutions
// hold the harvested artifacts, json_logs the per-task attempt histories.
type RunDirs struct {
	Root      string
	Solutions string
	JSONLogs  string
}

// CreateRunDirs builds <base>/<YYYYMMDD>_<prefix>/{solutions,json_logs}.
// Existing directories are reused so multiple batches on the same day share
// one run folder.
func CreateRunDirs(baseDir, prefix string, now time.Time) (RunDirs, error) {
	if prefix == "" {
		prefix = "run"
	}
	root := filepath.Join(baseDir, fmt.Sprintf("%s_%s", now.Format("20060102"), prefix))
	dirs := RunDirs{
		Root:      root,
		Solutions: filepath.Join(root, "solutions"),
		JSONLogs:  filepath.Join(root, "json_logs"),
	}
	for _, d := range []string{dirs.Solutions, dirs.JSONLogs} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return RunDirs{}, fmt.Errorf("creating run directory %s: %w", d, err)
		}
	}
	return dirs, nil
}

// RenameSolution moves a downloaded artifact into the solutions directory
// under the canonical name
// <YYYYMMDD_HHMMSS>_<task>_Solution_<agent>_Model<ext>, appending a counter
// on collision.
func RenameSolution(path, solutionsDir, taskName, agentName string, now time.Time) (string, error) {
	ext := filepath.Ext(path)
	base := fmt.Sprintf("%s_%s_Solution_%s_Model",
		now.Format("20060102_150405"), sanitizeName(taskName), sanitizeName(agentName))

	dst := filepath.Join(solutionsDir, base+ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		dst = filepath.Join(solutionsDir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}

	if err := os.Rename(path, dst); err != nil {
		// Cross-device renames fail; fall back to copy and remove.
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return "", fmt.Errorf("renaming solution %s: %w", filepath.Base(path), err)
		}
		if werr := os.WriteFile(dst, data, 0o644); werr != nil {
			return "", fmt.Errorf("copying solution %s: %w", filepath.Base(path), werr)
		}
		os.Remove(path)
	}
	return dst, nil
}

func sanitizeName(s string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_")
	return r.Replace(s)
}
