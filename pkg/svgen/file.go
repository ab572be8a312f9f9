package svgen

import (
	"github.com/google/renameio/v2"
)

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so path either holds the whole capture or is left untouched.
func WriteFileAtomic(path string, data []byte) error {
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}
