package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage. size is the body length in
// bytes, or -1 when unknown; implementations pick the upload strategy.
type BlobWriter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Archiver moves old records from the database to cold storage.
type Archiver interface {
	ArchiveDeliveries(ctx context.Context, before time.Time) (int64, error)
	ArchiveWebhookEvents(ctx context.Context, before time.Time) (int64, error)
}
