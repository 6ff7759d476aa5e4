// Package filex holds small file helpers for operator output.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// CreateExclusive creates path for writing, making missing parent
// directories. It fails if path already exists. Files and directories are
// private to the owner since exports hold sealed vault data.
func CreateExclusive(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}
