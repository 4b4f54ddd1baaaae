package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const timestampLayout = "20060102150405"

// OutputPath builds the timestamped output file name for a write element:
// {dir}/{element}_{hash8}_{YYYYMMDDHHMMSS}.{ext}. The short hash ties the
// file back to the cached content that produced it.
func OutputPath(dir, element, hash string, ts time.Time, format string) string {
	short := hash
	if len(short) > 8 {
		short = short[:8]
	}
	ext := strings.TrimPrefix(format, ".")
	name := fmt.Sprintf("%s_%s_%s.%s", element, short, ts.Format(timestampLayout), ext)
	return filepath.Join(dir, name)
}

// AugmentedWorkflowPath places the augmented workflow copy next to the run
// outputs: {dir}/{workflow stem}_{YYYYMMDDHHMMSS}.json.
func AugmentedWorkflowPath(dir, workflowPath string, ts time.Time) string {
	stem := strings.TrimSuffix(filepath.Base(workflowPath), filepath.Ext(workflowPath))
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", stem, ts.Format(timestampLayout)))
}

// resolvePath makes workflow-relative paths absolute against the workflow
// file's directory, leaving absolute paths untouched.
func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
