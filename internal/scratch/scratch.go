// Package scratch holds uploaded files on local disk between receipt and
// hand-off to object storage.
package scratch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge is returned when the stream exceeds the size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// Store writes uploads into a single scratch directory.
type Store struct {
	dir string
}

// New creates the scratch directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the scratch directory path.
func (s *Store) Dir() string { return s.dir }

// Save streams r to a new file named by a random UUID plus ext. The client's
// file name never reaches the filesystem. At most limit bytes are accepted;
// a longer stream yields ErrTooLarge and leaves nothing behind.
func (s *Store) Save(r io.Reader, ext string, limit int64) (string, int64, error) {
	ext = strings.TrimPrefix(ext, ".")
	name := uuid.NewString()
	if ext != "" {
		name += "." + ext
	}
	path := filepath.Join(s.dir, name)

	// Atomic write: temp file + rename
	tmp, err := os.CreateTemp(s.dir, ".upload-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()

	// Read one byte past the limit so an oversized stream is detectable.
	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("write: %w", err)
	}
	if n > limit {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, ErrTooLarge
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("rename: %w", err)
	}
	return path, n, nil
}

// Remove deletes a scratch file. Missing files are not an error.
func (s *Store) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
