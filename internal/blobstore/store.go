// Package blobstore holds the durable copies of extracted artifact files.
// Files are partitioned by category and addressed by their stored filename,
// which is unique per run; a name is written at most once.
package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Category partitions durable storage
type Category string

const (
	CategoryScreenshots Category = "screenshots"
	CategoryFiles       Category = "files"
)

// StoreType identifies a backend
type StoreType string

const (
	StoreTypeLocal StoreType = "local"
	StoreTypeMinio StoreType = "minio"
)

// ErrNotFound is returned when no blob exists under a name
var ErrNotFound = errors.New("blob not found")

// Store is a write-once durable file store
type Store interface {
	Type() StoreType

	// Put stores src under name in category unless it already exists.
	// It reports whether a write happened.
	Put(ctx context.Context, category Category, name string, src io.Reader, size int64) (bool, error)

	// Open returns the content stored under name in category
	Open(ctx context.Context, category Category, name string) (io.ReadCloser, error)

	// Exists reports whether name is stored in category
	Exists(ctx context.Context, category Category, name string) (bool, error)
}

// URLFor builds the public URL of a stored file
func URLFor(prefix, name string) string {
	if prefix == "" {
		prefix = "/api/files/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + name
}

// validName rejects names that could escape a category
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.Contains(name, "\x00")
}
