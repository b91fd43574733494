package storage

import (
	"context"
	"errors"
	"time"
)

// Default expiry duration for presigned URLs
const DefaultPresignedURLExpiry = 15 * time.Minute

var ErrObjectNotFound = errors.New("object not found in storage")

// ObjectStorage defines the object storage operations used for decision receipts.
type ObjectStorage interface {
	// PutObject uploads body under objectKey, replacing any previous object.
	PutObject(ctx context.Context, objectKey, contentType string, body []byte) error

	// ObjectExists reports whether objectKey is present.
	ObjectExists(ctx context.Context, objectKey string) (bool, error)

	// GeneratePresignedDownloadURL creates a temporary URL that allows GET requests
	// for downloading an object directly from the storage provider.
	GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)

	DeleteObject(ctx context.Context, objectKey string) error
}
