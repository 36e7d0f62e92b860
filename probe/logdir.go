package probe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Log directory layout.
const (
	LogDirName = "log"
	InfoFile   = "info"
)

// ErrNoLogDir is returned when no log directory is found.
var ErrNoLogDir = errors.New("no log directory with an info marker")

// IsLogDir reports whether dir contains the info marker.
func IsLogDir(dir string) bool {
	st, err := os.Stat(filepath.Join(dir, InfoFile))
	return err == nil && !st.IsDir()
}

// FindLogDir walks upward from start looking for a log directory
// holding the info marker, stopping at the filesystem root.
func FindLogDir(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", start, err)
	}
	for {
		candidate := filepath.Join(dir, LogDirName)
		if IsLogDir(candidate) {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w above %s", ErrNoLogDir, start)
		}
		dir = parent
	}
}

// InitLogDir creates root/log with its info marker and returns the
// log directory. Existing markers are left untouched.
func InitLogDir(root string) (string, error) {
	dir := filepath.Join(root, LogDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	info := filepath.Join(dir, InfoFile)
	if _, err := os.Stat(info); err == nil {
		return dir, nil
	}
	if err := os.WriteFile(info, []byte("amplify trace log\n"), 0o644); err != nil {
		return "", fmt.Errorf("writing info marker: %w", err)
	}
	return dir, nil
}

// ClearLogs removes every trace file in dir, keeping the info marker.
// Failures are ignored.
func ClearLogs(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || e.Name() == InfoFile {
			continue
		}
		if os.Remove(filepath.Join(dir, e.Name())) == nil {
			n++
		}
	}
	return n
}
