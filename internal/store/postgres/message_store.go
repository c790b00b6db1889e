package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// MessageStore implements domain.MessageStore using PostgreSQL.
type MessageStore struct {
	pool *pgxpool.Pool
}

// NewMessageStore creates a new MessageStore backed by the given pool.
func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// GetByID returns a chat message with its last tone analysis, if any.
func (s *MessageStore) GetByID(ctx context.Context, id string) (domain.ChatMessage, error) {
	const query = `
		SELECT id, thread_id, sender_id, body, created_at,
		       tone, tone_score, tone_flagged, tone_suggestion, tone_source
		FROM chat_messages WHERE id = $1`

	var (
		msg        domain.ChatMessage
		tone       *string
		score      *float64
		flagged    []string
		suggestion *string
		source     *string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.ThreadID, &msg.SenderID, &msg.Body, &msg.CreatedAt,
		&tone, &score, &flagged, &suggestion, &source,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ChatMessage{}, domain.ErrNotFound
		}
		return domain.ChatMessage{}, fmt.Errorf("postgres: get chat message %s: %w", id, err)
	}

	if tone != nil {
		res := domain.ToneResult{Tone: domain.Tone(*tone), Flagged: flagged}
		if score != nil {
			res.Score = *score
		}
		if suggestion != nil {
			res.Suggestion = *suggestion
		}
		if source != nil {
			res.Source = domain.ToneSource(*source)
		}
		msg.Tone = &res
	}
	return msg, nil
}

// SetTone stores the analysis result on a chat message.
func (s *MessageStore) SetTone(ctx context.Context, messageID string, result domain.ToneResult) error {
	const query = `
		UPDATE chat_messages SET
			tone             = $2,
			tone_score       = $3,
			tone_flagged     = $4,
			tone_suggestion  = $5,
			tone_source      = $6,
			tone_analyzed_at = NOW()
		WHERE id = $1`

	flagged := result.Flagged
	if flagged == nil {
		flagged = []string{}
	}

	tag, err := s.pool.Exec(ctx, query,
		messageID, string(result.Tone), result.Score, flagged, result.Suggestion, string(result.Source),
	)
	if err != nil {
		return fmt.Errorf("postgres: set tone on message %s: %w", messageID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
