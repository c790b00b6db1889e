package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/coparent/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// DeliveryArchiveStore lists delivery records for export.
type DeliveryArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.DeliveryRecord, error)
}

// WebhookArchiveStore lists webhook ledger rows for export.
type WebhookArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.WebhookEvent, error)
}

// Archiver implements domain.Archiver. It exports rows older than a cutoff
// as JSONL objects and records each export in the audit log. Rows are not
// deleted from Postgres.
type Archiver struct {
	writer     domain.BlobWriter
	deliveries DeliveryArchiveStore
	webhooks   WebhookArchiveStore
	audit      domain.AuditStore
	now        func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	deliveries DeliveryArchiveStore,
	webhooks WebhookArchiveStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:     writer,
		deliveries: deliveries,
		webhooks:   webhooks,
		audit:      audit,
		now:        time.Now,
	}
}

// ArchiveDeliveries exports delivery records created before the cutoff.
func (a *Archiver) ArchiveDeliveries(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.deliveries.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive deliveries query: %w", err)
	}
	return archive(ctx, a, "deliveries", before, recs)
}

// webhookArchiveRow keeps the raw payload, which domain.WebhookEvent hides
// from JSON.
type webhookArchiveRow struct {
	domain.WebhookEvent
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ArchiveWebhookEvents exports webhook ledger rows received before the cutoff.
func (a *Archiver) ArchiveWebhookEvents(ctx context.Context, before time.Time) (int64, error) {
	evts, err := a.webhooks.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive webhook events query: %w", err)
	}
	rows := make([]webhookArchiveRow, len(evts))
	for i, e := range evts {
		rows[i] = webhookArchiveRow{WebhookEvent: e}
		if json.Valid(e.Payload) {
			rows[i].Payload = e.Payload
		}
	}
	return archive(ctx, a, "webhook_events", before, rows)
}

// archive uploads records as one JSONL object and audits the run.
func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, a.now())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), int64(len(buf)), jsonlContentType); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Append(ctx, domain.AuditEntry{
		Event:   "archive." + kind,
		Subject: path,
		Detail: map[string]any{
			"count":  count,
			"before": before.Format(time.RFC3339),
			"bytes":  len(buf),
		},
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the object key, partitioned by the run date:
//
//	deliveries/2026/03/01/20260301T030000Z.jsonl
func archivePath(kind string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%s.jsonl", kind, at.Format("2006/01/02"), at.Format("20060102T150405Z"))
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
