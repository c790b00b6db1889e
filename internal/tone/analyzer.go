// Package tone scores chat messages for hostility. A keyword heuristic runs
// locally; a hosted language model can be layered in front of it.
package tone

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// MaxTextLength is the longest message the analyzers accept, in runes.
const MaxTextLength = 5000

// Analyzer scores a message.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (domain.ToneResult, error)
}

// FallbackAnalyzer tries primary and falls back to secondary on any error.
type FallbackAnalyzer struct {
	primary   Analyzer
	secondary Analyzer
	logger    *slog.Logger
}

// NewFallbackAnalyzer creates a FallbackAnalyzer.
func NewFallbackAnalyzer(primary, secondary Analyzer, logger *slog.Logger) *FallbackAnalyzer {
	return &FallbackAnalyzer{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With(slog.String("component", "tone")),
	}
}

// Analyze returns the primary result, or the secondary one if the primary
// fails.
func (f *FallbackAnalyzer) Analyze(ctx context.Context, text string) (domain.ToneResult, error) {
	res, err := f.primary.Analyze(ctx, text)
	if err == nil {
		return res, nil
	}
	f.logger.WarnContext(ctx, "primary analyzer failed, using fallback",
		slog.String("error", err.Error()),
	)
	return f.secondary.Analyze(ctx, text)
}

// clamp01 bounds v to [0,1].
func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
