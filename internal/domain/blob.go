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
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver exports engine state to cold storage. Each method returns the
// number of records written, or zero when the archive for the day exists.
type Archiver interface {
	ArchiveRegistry(ctx context.Context, day time.Time, markets []MarketInfo) (int64, error)
	ArchiveSpawns(ctx context.Context, day time.Time, spawns []PendingSpawn) (int64, error)
}
