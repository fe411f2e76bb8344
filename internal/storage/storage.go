// Package storage provides the object-store capability used by both
// pipelines: raw mail downloads, attachment uploads, and presigned GET
// URLs.
package storage

import (
	"context"
	"time"
)

// ObjectStore is the object storage capability. All operations are
// retriable on transient failure.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Delete(ctx context.Context, bucket, key string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, time.Time, error)
}
