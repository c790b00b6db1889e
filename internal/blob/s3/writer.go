package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// partSize is the multipart chunk size and the threshold above which Put
// switches to a multipart upload. S3 rejects parts under 5 MiB.
const partSize int64 = 8 * 1024 * 1024

// Writer implements domain.BlobWriter. When the client enables it, objects
// are written with SSE-S3 encryption.
type Writer struct {
	api      *s3.Client
	bucket   string
	sse      bool
	uploader *manager.Uploader
}

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		api:    c.S3(),
		bucket: c.Bucket(),
		sse:    c.sse,
		uploader: manager.NewUploader(c.S3(), func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
	}
}

// Put stores body under key. Bodies of unknown size or larger than one part
// go through the upload manager; the rest use a single PutObject.
func (w *Writer) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	in := w.input(key, body, contentType)

	if size < 0 || size > partSize {
		if _, err := w.uploader.Upload(ctx, in); err != nil {
			return fmt.Errorf("s3blob: multipart put %s: %w", key, err)
		}
		return nil
	}

	in.ContentLength = aws.Int64(size)
	if _, err := w.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

func (w *Writer) input(key string, body io.Reader, contentType string) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if w.sse {
		in.ServerSideEncryption = types.ServerSideEncryptionAes256
	}
	return in
}

var _ domain.BlobWriter = (*Writer)(nil)
