package fetch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// partialPattern names in-flight downloads next to their destination.
const partialPattern = ".part-*"

// Storage keeps downloaded files, addressed by the slash-separated paths
// LocalPath returns, such as "example.com/docs/index.html".
type Storage interface {
	// Exists reports whether path already holds a complete download.
	Exists(path string) bool
	// Save copies r to path and returns the number of bytes stored. Every
	// chunk is also written to progress when it is not nil. A failed Save
	// leaves nothing at path.
	Save(path string, r io.Reader, progress io.Writer) (int64, error)
}

// LocalStorage keeps downloads under a root directory, one file per path.
type LocalStorage struct {
	root string
}

// NewLocalStorage returns a LocalStorage rooted at dir. Directories are
// created on the first Save below them.
func NewLocalStorage(dir string) *LocalStorage {
	return &LocalStorage{root: dir}
}

// File returns the file name path is stored under.
func (s *LocalStorage) File(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// Exists reports whether path is stored as a regular file. A directory of
// the same name, left by a pretty-path layout, does not count.
func (s *LocalStorage) Exists(path string) bool {
	fi, err := os.Stat(s.File(path))
	return err == nil && fi.Mode().IsRegular()
}

// Save streams r into a partial file beside the destination and renames it
// into place once the copy is complete.
func (s *LocalStorage) Save(path string, r io.Reader, progress io.Writer) (n int64, err error) {
	dest := s.File(path)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	part, err := os.CreateTemp(dir, partialPattern)
	if err != nil {
		return 0, fmt.Errorf("create partial file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = part.Close()
			_ = os.Remove(part.Name())
		}
	}()

	var w io.Writer = part
	if progress != nil {
		w = io.MultiWriter(part, progress)
	}
	if n, err = io.Copy(w, r); err != nil {
		return n, err
	}
	if err = part.Close(); err != nil {
		return n, err
	}
	if err = os.Rename(part.Name(), dest); err != nil { //nolint:gosec // G703: dest is built by LocalPath
		return n, err
	}
	return n, nil
}
