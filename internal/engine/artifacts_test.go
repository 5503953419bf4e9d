// internal/engine/artifacts_test.go
package engine

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRunDirsLayout(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	dirs, err := CreateRunDirs(base, "claudeGUI", now)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "20260825_claudeGUI"), dirs.Root)
	assert.DirExists(t, dirs.Solutions)
	assert.DirExists(t, dirs.JSONLogs)

	// Reusing the same day reuses the same root.
	again, err := CreateRunDirs(base, "claudeGUI", now)
	require.NoError(t, err)
	assert.Equal(t, dirs.Root, again.Root)
}

func TestRenameSolutionPattern(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "raw.xlsx")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	now := time.Date(2026, 8, 25, 14, 30, 5, 0, time.UTC)
	dst, err := RenameSolution(src, dir, "Budget Model", "claude_web", now)
	require.NoError(t, err)

	assert.Equal(t, "20260825_143005_Budget_Model_Solution_claude_web_Model.xlsx", filepath.Base(dst))
	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)
}

func TestRenameSolutionCollisionCounter(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	var names []string
	for i := 0; i < 3; i++ {
		src := filepath.Join(dir, "raw.xlsx")
		require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
		dst, err := RenameSolution(src, dir, "task", "agent", now)
		require.NoError(t, err)
		names = append(names, filepath.Base(dst))
	}

	assert.Len(t, names, 3)
	assert.NotEqual(t, names[0], names[1])
	assert.NotEqual(t, names[1], names[2])
	assert.Regexp(t, regexp.MustCompile(`_Solution_agent_Model_1\.xlsx$`), names[1])
	assert.Regexp(t, regexp.MustCompile(`_Solution_agent_Model_2\.xlsx$`), names[2])
}
