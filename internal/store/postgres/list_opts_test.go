package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/coparent/internal/domain"
)

func TestWithListOptsNoFilters(t *testing.T) {
	q, args := withListOpts("SELECT 1 FROM t WHERE user_id = $1", []any{"u1"}, domain.ListOpts{})
	assert.Equal(t, "SELECT 1 FROM t WHERE user_id = $1 ORDER BY created_at DESC", q)
	assert.Equal(t, []any{"u1"}, args)
}

func TestWithListOptsNumbersPlaceholders(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := withListOpts("SELECT 1 FROM t WHERE user_id = $1", []any{"u1"},
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})

	assert.Equal(t,
		"SELECT 1 FROM t WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{"u1", since, 10, 20}, args)
}
