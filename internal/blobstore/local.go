package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalConfig maps each category to a directory
type LocalConfig struct {
	ScreenshotsDir string
	FilesDir       string
}

// LocalStore implements Store on a local (or network-mounted) filesystem
type LocalStore struct {
	dirs map[Category]string
}

// NewLocalStore creates the category directories and returns the store
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	dirs := map[Category]string{
		CategoryScreenshots: cfg.ScreenshotsDir,
		CategoryFiles:       cfg.FilesDir,
	}
	for cat, dir := range dirs {
		if dir == "" {
			return nil, fmt.Errorf("local blob store: %s directory must not be empty", cat)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s dir %s: %w", cat, dir, err)
		}
	}
	return &LocalStore{dirs: dirs}, nil
}

func (l *LocalStore) Type() StoreType { return StoreTypeLocal }

func (l *LocalStore) path(category Category, name string) (string, error) {
	dir, ok := l.dirs[category]
	if !ok {
		return "", fmt.Errorf("unknown blob category %q", category)
	}
	if !validName(name) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(dir, name), nil
}

func (l *LocalStore) Put(_ context.Context, category Category, name string, src io.Reader, _ int64) (written bool, err error) {
	p, err := l.path(category, name)
	if err != nil {
		return false, err
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", p, err)
	}

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(p)
		return false, fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return false, fmt.Errorf("failed to close %s: %w", p, err)
	}
	return true, nil
}

func (l *LocalStore) Open(_ context.Context, category Category, name string) (io.ReadCloser, error) {
	p, err := l.path(category, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}

func (l *LocalStore) Exists(_ context.Context, category Category, name string) (bool, error) {
	p, err := l.path(category, name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}
