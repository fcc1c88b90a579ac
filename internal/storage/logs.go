package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunStorage persists captured step output under a base directory, one
// subdirectory per run.
type RunStorage struct {
	BaseDir string
}

// NewRunStorage creates a storage handler rooted at baseDir.
func NewRunStorage(baseDir string) *RunStorage {
	return &RunStorage{BaseDir: baseDir}
}

// SaveStepLog writes the output of one step to
// <base>/<runID>/<instance>_<step>_<timestamp>.log and returns the path.
func (rs *RunStorage) SaveStepLog(runID, instance, step, output string) (string, error) {
	dir := filepath.Join(rs.BaseDir, sanitize(runID))
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return "", err
	}

	// Timestamp keeps filenames unique across re-runs of the same step.
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s_%s.log", sanitize(instance), sanitize(step), timestamp)
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// sanitize strips characters that are unsafe in filenames.
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			clean = append(clean, r)
		}
	}
	if len(clean) == 0 {
		return "step"
	}
	return string(clean)
}
