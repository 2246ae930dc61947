package domain

import (
	"context"
	"time"
)

// ObjectStorage is the object-store capability used to deliver generated files.
type ObjectStorage interface {
	// Upload stores data and returns the object path.
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	// Presign returns a time-limited download URL for an uploaded object.
	Presign(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
}
