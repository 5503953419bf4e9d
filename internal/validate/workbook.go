// internal/validate/workbook.go

// Package validate checks downloaded workbook artifacts before an attempt is
// allowed to count as a success. A file that exists but will not open, or
// that is missing its expected sheets, means the generation silently failed
// and the attempt should be retried.
package validate

import (
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
	"github.com/xkilldash9x/autoprompt-cli/internal/config"
)

// Error is a validation failure carrying the status the retry machine should
// record for the attempt.
type Error struct {
	Status schemas.TaskStatus
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Reason, e.Status)
}

func fail(status schemas.TaskStatus, path, reason string) *Error {
	return &Error{Status: status, Path: path, Reason: reason}
}

// Workbook validates a single downloaded spreadsheet against cfg.
func Workbook(path string, cfg config.ValidationConfig) error {
	info, err := os.Stat(path)
	if err != nil {
		return fail(schemas.StatusDownloadFailed, path, "file missing after download")
	}
	if info.Size() == 0 {
		return fail(schemas.StatusFileCorrupted, path, "file is empty")
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return fail(schemas.StatusFileCorrupted, path, fmt.Sprintf("not a readable workbook: %v", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return fail(schemas.StatusMissingSheets, path, "workbook has no sheets")
	}

	if cfg.RequireModelSheet && !hasSheetContaining(sheets, "model") {
		return fail(schemas.StatusMissingSheets, path,
			fmt.Sprintf("no sheet matching %q among %v", "model", sheets))
	}
	if cfg.RequireAnswersSheet && !hasSheetContaining(sheets, "answer") {
		return fail(schemas.StatusMissingSheets, path,
			fmt.Sprintf("no sheet matching %q among %v", "answer", sheets))
	}
	return nil
}

// Artifacts validates every workbook in paths; non-spreadsheet files pass
// through untouched. The first failure wins.
func Artifacts(paths []string, cfg config.ValidationConfig) error {
	if !cfg.Enabled {
		return nil
	}
	for _, p := range paths {
		if !isWorkbook(p) {
			continue
		}
		if err := Workbook(p, cfg); err != nil {
			return err
		}
	}
	return nil
}

func isWorkbook(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xlsm")
}

func hasSheetContaining(sheets []string, fragment string) bool {
	for _, s := range sheets {
		if strings.Contains(strings.ToLower(s), fragment) {
			return true
		}
	}
	return false
}
