package locations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// LocalDirectory stores files below a directory on the local file system.
type LocalDirectory struct {
	Path string
}

func NewLocalDirectory(path string) *LocalDirectory {
	return &LocalDirectory{Path: path}
}

// Write saves data to a temporary file and renames it into place.
func (d *LocalDirectory) Write(ctx context.Context, path string, data io.Reader) (string, error) {
	fullPath := d.resolve(path)
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name()) // No-op once renamed

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", fullPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("syncing %s: %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("renaming into %s: %w", fullPath, err)
	}
	return fullPath, nil
}

func (d *LocalDirectory) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(d.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", path, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// List skips temporary files of writes in progress.
func (d *LocalDirectory) List(ctx context.Context) iter.Seq2[string, error] {
	errStop := errors.New("walk-dir-stop")

	return func(yield func(string, error) bool) {
		err := filepath.WalkDir(d.Path, func(p string, entry os.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return errStop
				}
				return err
			}
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				return nil
			}
			if !yield(p, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield("", err)
		}
	}
}

// Remove ignores paths that don't exist.
func (d *LocalDirectory) Remove(ctx context.Context, paths ...string) error {
	var errs []error
	for _, path := range paths {
		if err := os.Remove(d.resolve(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func (d *LocalDirectory) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(d.Path, path)
}

var _ StorageLocation = (*LocalDirectory)(nil)
