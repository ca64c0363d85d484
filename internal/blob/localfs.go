package blob

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalFS is the output directory shared by every request.
// Nothing here locks; concurrent writers to the same name race.
type LocalFS struct {
	Root string
}

// EnsureRoot creates Root if it does not exist yet and reports whether it did.
func (l LocalFS) EnsureRoot() (bool, error) {
	info, err := os.Stat(l.Root)
	if err == nil {
		if !info.IsDir() {
			return false, &fs.PathError{Op: "mkdir", Path: l.Root, Err: fs.ErrExist}
		}
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return false, err
	}
	return true, nil
}

// Create opens name directly under Root for writing, truncating any
// existing file. It returns the absolute path of the file.
func (l LocalFS) Create(name string) (*os.File, string, error) {
	abs, err := l.Abs(filepath.Base(name))
	if err != nil {
		return nil, "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return nil, "", err
	}
	return f, abs, nil
}

func (l LocalFS) Open(relPath string) (*os.File, error) {
	clean := filepath.Clean(relPath)
	abs := filepath.Join(l.Root, clean)
	return os.Open(abs)
}

func (l LocalFS) Exists(relPath string) bool {
	clean := filepath.Clean(relPath)
	abs := filepath.Join(l.Root, clean)
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// Abs resolves relPath against Root as an absolute path.
func (l LocalFS) Abs(relPath string) (string, error) {
	return filepath.Abs(filepath.Join(l.Root, filepath.Clean(relPath)))
}
