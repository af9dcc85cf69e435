// Package objectstore defines the durable file storage used for uploaded
// identifier files and produced MARC exports.
package objectstore

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
)

// Backend identifies a storage implementation.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendS3    Backend = "s3"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// Storage is the object storage contract. Paths are slash separated and
// relative to the backend root.
type Storage interface {
	// Write stores body at p, replacing any existing object.
	Write(ctx context.Context, p string, body io.Reader, size int64) error

	// Read opens the object at p. The caller must close the reader.
	Read(ctx context.Context, p string) (io.ReadCloser, error)

	// Remove deletes the object at p. Removing a missing object is not an error.
	Remove(ctx context.Context, p string) error

	// RemoveFolder deletes every object under prefix.
	RemoveFolder(ctx context.Context, prefix string) error

	// List returns objects under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	Close() error
}

const (
	exportsRoot = "exports"
	uploadsRoot = "uploads"
)

// ExportPath is the storage location of a produced file.
func ExportPath(jobID, fileName string) string {
	return path.Join(exportsRoot, jobID, fileName)
}

// JobFolder is the prefix holding every file produced by a job.
func JobFolder(jobID string) string {
	return path.Join(exportsRoot, jobID) + "/"
}

// UploadPath is the storage location of an uploaded identifier file.
func UploadPath(fileDefinitionID, fileName string) string {
	return path.Join(uploadsRoot, fileDefinitionID, path.Base(strings.ReplaceAll(fileName, "\\", "/")))
}

// UploadFolder is the prefix holding a file definition's upload.
func UploadFolder(fileDefinitionID string) string {
	return path.Join(uploadsRoot, fileDefinitionID) + "/"
}
