// Package artifact unpacks downloaded artifact archives into a per-artifact
// staging area and classifies every member file for storage.
package artifact

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
)

// maxMemberSize bounds a single decompressed member
const maxMemberSize = 1 << 30

// Staging is the transient workspace of one artifact
type Staging struct {
	ArchivePath string
	Dir         string
}

// NewStaging returns the workspace paths of an artifact under root
func NewStaging(root string, artifactID int64) Staging {
	return Staging{
		ArchivePath: filepath.Join(root, fmt.Sprintf("%d.zip", artifactID)),
		Dir:         filepath.Join(root, fmt.Sprintf("extracted_%d", artifactID)),
	}
}

// Cleanup removes the archive and the extraction directory
func (s Staging) Cleanup() error {
	return multierr.Combine(
		ignoreNotExist(os.Remove(s.ArchivePath)),
		os.RemoveAll(s.Dir),
	)
}

// Download copies the archive stream into the staging archive file
func (s Staging) Download(src io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(s.ArchivePath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create staging root: %w", err)
	}
	f, err := os.Create(s.ArchivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive file: %w", err)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write archive: %w", err)
	}
	return n, nil
}

// Extract unpacks the staged archive and returns the slash-separated member
// paths relative to the extraction directory. Directory entries are skipped.
func (s Staging) Extract() ([]string, error) {
	r, err := zip.OpenReader(s.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip file: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create extraction dir: %w", err)
	}

	var members []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		rel, err := extractZipFile(f, s.Dir)
		if err != nil {
			return nil, err
		}
		members = append(members, rel)
	}
	return members, nil
}

// extractZipFile writes one archive member below destDir
func extractZipFile(f *zip.File, destDir string) (rel string, extractErr error) {
	cleanName := filepath.Clean(filepath.FromSlash(f.Name))
	if filepath.IsAbs(cleanName) || cleanName == ".." || strings.HasPrefix(cleanName, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid file path in zip: %s", f.Name)
	}

	filePath := filepath.Join(destDir, cleanName)
	cleanDest := filepath.Clean(destDir)
	if !strings.HasPrefix(filePath, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid file path in zip (outside destination): %s", f.Name)
	}

	if f.UncompressedSize64 > maxMemberSize {
		return "", fmt.Errorf("file too large in zip: %s (%d bytes)", f.Name, f.UncompressedSize64)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	src, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file in zip: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create destination file: %w", err)
	}
	defer func() {
		if err := dst.Close(); extractErr == nil && err != nil {
			extractErr = fmt.Errorf("failed to close destination file: %w", err)
		}
	}()

	if _, err := io.Copy(dst, io.LimitReader(src, maxMemberSize)); err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}

	return filepath.ToSlash(cleanName), nil
}

func ignoreNotExist(err error) error {
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
