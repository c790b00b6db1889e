package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// AuditStore implements domain.AuditStore on the append-only audit_log table.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append writes one entry. A nil detail is stored as an empty object.
func (s *AuditStore) Append(ctx context.Context, e domain.AuditEntry) error {
	if e.Event == "" {
		return fmt.Errorf("postgres: append audit: %w: empty event", domain.ErrInvalidInput)
	}
	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: append audit %s: marshal detail: %w", e.Event, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, subject, detail) VALUES ($1, $2, $3)`,
		e.Event, e.Subject, raw,
	)
	if err != nil {
		return fmt.Errorf("postgres: append audit %s: %w", e.Event, err)
	}
	return nil
}

// ListBySubject returns the history of one user or object, newest first.
func (s *AuditStore) ListBySubject(ctx context.Context, subject string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := withListOpts(
		`SELECT id, event, subject, detail, created_at FROM audit_log WHERE subject = $1`,
		[]any{subject}, opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit for %s: %w", subject, err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit for %s: %w", subject, err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var (
		e   domain.AuditEntry
		raw []byte
	)
	if err := row.Scan(&e.ID, &e.Event, &e.Subject, &raw, &e.CreatedAt); err != nil {
		return e, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshal detail: %w", err)
		}
	}
	return e, nil
}
