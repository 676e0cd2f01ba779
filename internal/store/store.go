// Package store performs the sandboxed filesystem operations a TFTP
// transfer needs: opening an existing regular file for a read transfer, and
// creating a new (non-existent) file for a write transfer. TFTP has no
// per-user identity, so there is no permission layer here beyond the path
// sandbox upstream; each os call is wrapped with a descriptive
// fmt.Errorf("...: %w", err) and the stdlib io.ReadCloser/io.WriteCloser
// types are returned directly rather than a custom handle type.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// OpenRead opens path for reading. The target must already exist as a
// regular file.
func OpenRead(path string) (io.ReadCloser, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%q is not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return f, nil
}

// Exists reports whether path exists, regardless of type.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// CreateWrite creates path for writing. The target must NOT already exist
// (no overwrite). Parent directories are created as needed.
func CreateWrite(path string) (io.WriteCloser, error) {
	if Exists(path) {
		return nil, fmt.Errorf("%q already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directories for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", path, err)
	}
	return f, nil
}
