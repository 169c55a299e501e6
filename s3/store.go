package s3

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("object not found")

// Store is a flat key/value object store.
type Store interface {
	// Upload writes data at key, replacing any existing object.
	Upload(ctx context.Context, key string, data []byte) error

	// Download returns the object at key, or ErrNotFound.
	Download(ctx context.Context, key string) ([]byte, error)
}
