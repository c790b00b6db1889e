package tone

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coparent/internal/domain"
)

func TestKeywordAnalyzer(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		tone  domain.Tone
		score float64
	}{
		{name: "empty", text: "   ", tone: domain.ToneNeutral, score: 0},
		{name: "plain", text: "Pickup is at 5pm on Friday.", tone: domain.ToneNeutral, score: 0},
		{name: "friendly", text: "Thanks so much, see you Saturday", tone: domain.ToneFriendly, score: 0},
		{name: "single insult", text: "You are an idiot.", tone: domain.ToneTense, score: 0.5},
		{name: "shouting", text: "WHERE ARE YOU", tone: domain.ToneTense, score: 0.3},
		{name: "hostile", text: "You are a stupid idiot and a liar!!", tone: domain.ToneHostile, score: 1},
		{name: "phrase", text: "Just shut up, it's your fault", tone: domain.ToneHostile, score: 0.63},
		{name: "positive offsets", text: "Thanks, but that was a bit ridiculous", tone: domain.ToneNeutral, score: 0.025},
	}

	a := NewKeywordAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.Analyze(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.tone, res.Tone)
			assert.InDelta(t, tt.score, res.Score, 0.01)
			assert.Equal(t, domain.ToneSourceKeyword, res.Source)
			assert.NotNil(t, res.Flagged)
			assert.Equal(t, res.NeedsReview(), res.Suggestion != "")
		})
	}
}

func TestKeywordAnalyzerFlagsTerms(t *testing.T) {
	res, err := NewKeywordAnalyzer().Analyze(context.Background(), "You never listen, STOP lying")
	require.NoError(t, err)
	assert.Equal(t, []string{"you never", "lying", "STOP"}, res.Flagged)
}

func TestIsShouted(t *testing.T) {
	assert.True(t, isShouted("STOP"))
	assert.False(t, isShouted("OK"))
	assert.False(t, isShouted("Stop"))
}

func newModelServer(t *testing.T, handler http.HandlerFunc) *ModelAnalyzer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	m := NewModelAnalyzer(ModelConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "gpt-4o-mini"})
	m.initialDelay = time.Millisecond
	return m
}

func completion(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return b
}

func TestModelAnalyzer(t *testing.T) {
	m := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "you are late again", req.Messages[1].Content)

		_, _ = w.Write(completion(`{"tone":"Tense","score":1.7,"flagged":["late again"],"suggestion":"Could we talk about timing?"}`))
	})

	res, err := m.Analyze(context.Background(), "you are late again")
	require.NoError(t, err)
	assert.Equal(t, domain.ToneTense, res.Tone)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, []string{"late again"}, res.Flagged)
	assert.Equal(t, domain.ToneSourceModel, res.Source)
}

func TestModelAnalyzerRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	m := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		_, _ = w.Write(completion(`{"tone":"neutral","score":0.1}`))
	})

	res, err := m.Analyze(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, domain.ToneNeutral, res.Tone)
	assert.Empty(t, res.Suggestion)
	assert.EqualValues(t, 3, calls.Load())
}

func TestModelAnalyzerDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	m := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	})

	_, err := m.Analyze(context.Background(), "ok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.EqualValues(t, 1, calls.Load())
}

func TestModelAnalyzerRejectsUnknownTone(t *testing.T) {
	m := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completion(`{"tone":"sarcastic","score":0.4}`))
	})
	_, err := m.Analyze(context.Background(), "sure")
	assert.ErrorContains(t, err, "unknown tone")
}

func TestModelAnalyzerRequiresKey(t *testing.T) {
	_, err := NewModelAnalyzer(ModelConfig{BaseURL: "http://unused"}).Analyze(context.Background(), "x")
	assert.Error(t, err)
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, string) (domain.ToneResult, error) {
	return domain.ToneResult{}, errors.New("model down")
}

func TestFallbackAnalyzer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := NewFallbackAnalyzer(failingAnalyzer{}, NewKeywordAnalyzer(), logger)

	res, err := f.Analyze(context.Background(), "You are an idiot")
	require.NoError(t, err)
	assert.Equal(t, domain.ToneSourceKeyword, res.Source)
	assert.Equal(t, domain.ToneTense, res.Tone)
}
