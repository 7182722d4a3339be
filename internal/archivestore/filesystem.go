// Package archivestore provides the backends that hold superseded
// snapshots. Keys are slash-separated paths relative to the store root,
// of the form <schema>/<archive-dir>/<table>_<stamp>.parquet.
package archivestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/iangow/db2pq/internal/core"
)

// FileStore keeps archived snapshots as plain files under a root
// directory. With the root set to the data directory, archives land
// next to the live snapshots they supersede.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("archive root not configured")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating archive root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put moves the file at srcPath into the store. Rename is preferred;
// when src and root sit on different filesystems it falls back to a
// copy followed by removal of the source.
func (s *FileStore) Put(ctx context.Context, srcPath, key string) error {
	dest := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	if err := os.Rename(srcPath, dest); err == nil {
		return nil
	}
	if err := copyFile(srcPath, dest); err != nil {
		return err
	}
	return os.Remove(srcPath)
}

// Fetch copies the archived entry to destPath, leaving it in place.
func (s *FileStore) Fetch(ctx context.Context, key, destPath string) error {
	src := s.path(key)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("archive entry not found: %s", key)
		}
		return fmt.Errorf("stat archive entry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	return copyFile(src, destPath)
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat archive entry: %w", err)
}

// List returns keys under prefix in lexical order.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing archive entries: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// copyFile copies src to dest through a temp file in dest's directory,
// so a partial copy is never visible at dest.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copying to %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("installing %s: %w", dest, err)
	}
	success = true
	return nil
}

var _ core.ArchiveStore = (*FileStore)(nil)
