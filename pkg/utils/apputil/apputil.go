// Package apputil has small filesystem helpers used during startup.
package apputil

import (
	"os"
	"path/filepath"
)

// FileExists reports whether a file exists at the given path.
func FileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// EnsureDir creates the parent directory of the given file path if it does
// not already exist.
func EnsureDir(fileName string) (err error) {
	dir := filepath.Dir(fileName)
	if _, err = os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0700)
	}
	return
}
