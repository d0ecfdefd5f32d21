// Package storage provides object storage for table snapshots.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrPutFailed          = errors.New("put failed")
	ErrGetFailed          = errors.New("get failed")
	ErrDeleteFailed       = errors.New("delete failed")
)

// ObjectStorage abstracts the snapshot object store.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put writes an object under key, replacing any existing object.
	// Returns the ETag of the stored object.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// PutConditional writes only if the existing object's ETag matches.
	// An empty etag requires that no object exists under key yet.
	PutConditional(ctx context.Context, key string, data []byte, etag string) error

	// Get reads the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object under key. Deleting a missing object is
	// not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
