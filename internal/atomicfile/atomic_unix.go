//go:build !windows

// Package atomicfile writes files durably: write-rename-fsync, so a reader
// never observes a partially written TaskFile or Plan sidecar.
package atomicfile

import (
	"os"

	"github.com/google/renameio/v2"
)

// Write writes data to path atomically.
func Write(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
