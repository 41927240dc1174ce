package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver moves a closed strategy's durable records to cold storage as the
// final step of the Close Protocol.
type Archiver interface {
	ArchiveActivities(ctx context.Context, strategyID string) (int64, error)
	ArchiveOrderHistory(ctx context.Context, strategyID string) (int64, error)
}
