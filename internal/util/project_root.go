package util

import (
	"os"
	"path/filepath"
)

// FindUpward searches startPath and its parents for a file called name and
// returns the first match.
func FindUpward(startPath, name string) (string, bool) {
	currentPath := filepath.Clean(startPath)

	for {
		candidate := filepath.Join(currentPath, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}

		parentPath := filepath.Dir(currentPath)
		// Stop if we've reached the root or can't go higher
		if parentPath == currentPath || parentPath == "." {
			return "", false
		}
		currentPath = parentPath
	}
}
