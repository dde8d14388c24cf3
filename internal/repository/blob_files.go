package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// BlobFiles stores each key as <dir>/<key>.json. Writes go through a temp
// file and a rename so a crash never leaves a truncated blob behind.
type BlobFiles struct {
	dir string
	mu  sync.Mutex
}

var _ BlobStore = (*BlobFiles)(nil)

var errInvalidBlobKey = errors.New("invalid blob key")

func NewBlobFiles(dir string) *BlobFiles {
	return &BlobFiles{dir: dir}
}

// Path returns the side file used for key.
func (b *BlobFiles) Path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", errInvalidBlobKey, key)
	}
	return filepath.Join(b.dir, key+".json"), nil
}

// Read returns the blob content, or "" when the file does not exist.
func (b *BlobFiles) Read(key string) (string, error) {
	path, err := b.Path(key)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read blob %q: %w", key, err)
	}
	return string(data), nil
}

// Write replaces the blob. An empty value still creates the file.
func (b *BlobFiles) Write(key, value string) error {
	path, err := b.Path(key)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", b.dir, err)
	}

	tmp, err := os.CreateTemp(b.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp blob: %w", err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename blob %q: %w", key, err)
	}
	return nil
}

// Remove deletes the blob. Removing a missing blob is not an error.
func (b *BlobFiles) Remove(key string) error {
	path, err := b.Path(key)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob %q: %w", key, err)
	}
	return nil
}
