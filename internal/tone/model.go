package tone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/coparent/internal/domain"
)

const (
	modelMaxAttempts  = 3
	modelInitialDelay = 1 * time.Second
)

const systemPrompt = `You review messages between separated co-parents for tone.
Reply with a JSON object only, with these fields:
  "tone": one of "friendly", "neutral", "tense", "hostile"
  "score": number from 0 (calm) to 1 (very hostile)
  "flagged": array of the words or phrases that drove the score
  "suggestion": a calmer rewording when tone is tense or hostile, otherwise ""`

// ModelConfig configures the hosted model client.
type ModelConfig struct {
	APIKey  string
	BaseURL string // e.g. https://api.openai.com/v1
	Model   string
	Timeout time.Duration
}

// ModelAnalyzer asks an OpenAI-compatible chat completions endpoint to score
// a message.
type ModelAnalyzer struct {
	apiKey       string
	endpoint     string
	model        string
	client       *http.Client
	initialDelay time.Duration
}

// NewModelAnalyzer creates a ModelAnalyzer.
func NewModelAnalyzer(cfg ModelConfig) *ModelAnalyzer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ModelAnalyzer{
		apiKey:       cfg.APIKey,
		endpoint:     strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		model:        cfg.Model,
		client:       &http.Client{Timeout: timeout},
		initialDelay: modelInitialDelay,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// modelVerdict is the JSON object the model is asked to produce.
type modelVerdict struct {
	Tone       string   `json:"tone"`
	Score      float64  `json:"score"`
	Flagged    []string `json:"flagged"`
	Suggestion string   `json:"suggestion"`
}

// Analyze implements Analyzer. 429 and 5xx responses are retried with
// exponential backoff; other failures return immediately.
func (m *ModelAnalyzer) Analyze(ctx context.Context, text string) (domain.ToneResult, error) {
	if m.apiKey == "" {
		return domain.ToneResult{}, errors.New("tone: model api key not set")
	}

	body, err := json.Marshal(chatRequest{
		Model: m.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return domain.ToneResult{}, fmt.Errorf("tone: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < modelMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := m.initialDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.ToneResult{}, ctx.Err()
			}
		}

		content, retry, err := m.complete(ctx, body)
		if err == nil {
			return parseVerdict(content)
		}
		lastErr = err
		if !retry {
			return domain.ToneResult{}, err
		}
	}
	return domain.ToneResult{}, fmt.Errorf("tone: max attempts (%d) exceeded: %w", modelMaxAttempts, lastErr)
}

// complete performs one request and returns the assistant message content.
// retry reports whether the failure is transient.
func (m *ModelAnalyzer) complete(ctx context.Context, body []byte) (content string, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("tone: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, fmt.Errorf("tone: request failed: %w", err)
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return "", true, fmt.Errorf("tone: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		msg := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retry, fmt.Errorf("tone: model api error (%d): %s", resp.StatusCode, msg)
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return "", false, fmt.Errorf("tone: decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", false, errors.New("tone: response has no choices")
	}
	return cr.Choices[0].Message.Content, false, nil
}

// parseVerdict validates the model's JSON answer.
func parseVerdict(content string) (domain.ToneResult, error) {
	var v modelVerdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return domain.ToneResult{}, fmt.Errorf("tone: decode verdict: %w", err)
	}
	t, ok := domain.ParseTone(strings.ToLower(strings.TrimSpace(v.Tone)))
	if !ok {
		return domain.ToneResult{}, fmt.Errorf("tone: model returned unknown tone %q", v.Tone)
	}

	res := domain.ToneResult{
		Tone:       t,
		Score:      clamp01(v.Score),
		Flagged:    v.Flagged,
		Suggestion: v.Suggestion,
		Source:     domain.ToneSourceModel,
	}
	if res.Flagged == nil {
		res.Flagged = []string{}
	}
	if !res.NeedsReview() {
		res.Suggestion = ""
	}
	return res, nil
}
