// Package blob provides the storages that hold attached file bytes.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned by Open when the ID does not exist.
var ErrNotFound = errors.New("blob not found")

// Storage is the capability set the attacher needs from a backend.
// IDs are never overwritten in place; Delete of a missing ID is a no-op.
//
// File metadata is kept in the record column, not by the storage. The
// metadata passed to Upload is a hint a backend may turn into object
// headers (S3 sets Content-Type and Content-Disposition); the size is only
// known once the body has been read, so fresh uploads do not carry it.
type Storage interface {
	Upload(ctx context.Context, r io.Reader, id string, metadata map[string]interface{}) error
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	URL(ctx context.Context, id string, opts URLOptions) (string, error)
}

// URLOptions tune the URL a storage hands out.
type URLOptions struct {
	// Expires bounds presigned URLs; zero uses the storage default.
	Expires time.Duration
	// Download asks for a Content-Disposition: attachment response where supported.
	Download bool
}

// StorageError wraps a backend failure with the operation that caused it.
type StorageError struct {
	Op      string
	Storage string
	ID      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s:%s: %v", e.Op, e.Storage, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *StorageError unless it is nil or already one.
func Wrap(op, storage, id string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Storage: storage, ID: id, Err: err}
}

// Copy streams id from src into dst under newID.
func Copy(ctx context.Context, src Storage, id string, dst Storage, newID string, metadata map[string]interface{}) error {
	r, err := src.Open(ctx, id)
	if err != nil {
		return err
	}
	defer r.Close()
	return dst.Upload(ctx, r, newID, metadata)
}
