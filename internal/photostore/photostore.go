// Package photostore persists the uploaded photos behind recorded predictions.
package photostore

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("photo not found")

type PhotoStore interface {
	// Save stores r and returns a generated key.
	Save(ctx context.Context, mimeType string, r io.Reader) (key string, err error)
	// Open returns the stored photo and its MIME type.
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
}
