// Package storage moves collection snapshots to and from object storage.
package storage

import (
	"context"

	dkerrors "github.com/arkilian/docrel/internal/errors"
)

// ErrObjectNotFound is returned by Download for a missing object.
var ErrObjectNotFound = dkerrors.New(dkerrors.ErrCategoryStorage, dkerrors.CodeObjectNotFound, "object not found")

// ObjectStorage abstracts the object store snapshots are written to.
// Implementations exist for S3 and the local filesystem.
type ObjectStorage interface {
	// Upload copies the local file at localPath to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether objectPath exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under prefix, sorted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

func uploadError(objectPath string, err error) error {
	return dkerrors.NewStorageError(dkerrors.CodeUploadFailed, "storage: upload "+objectPath, err)
}

func downloadError(objectPath string, err error) error {
	return dkerrors.NewStorageError(dkerrors.CodeDownloadFailed, "storage: download "+objectPath, err)
}
