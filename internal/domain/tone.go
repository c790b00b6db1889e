package domain

import "time"

// Tone is the coarse label a tone analyzer assigns to a message.
type Tone string

const (
	ToneFriendly Tone = "friendly"
	ToneNeutral  Tone = "neutral"
	ToneTense    Tone = "tense"
	ToneHostile  Tone = "hostile"
)

// ParseTone validates a tone label.
func ParseTone(s string) (Tone, bool) {
	switch t := Tone(s); t {
	case ToneFriendly, ToneNeutral, ToneTense, ToneHostile:
		return t, true
	}
	return "", false
}

// ToneSource identifies which analyzer produced a result.
type ToneSource string

const (
	ToneSourceKeyword ToneSource = "keyword"
	ToneSourceModel   ToneSource = "model"
)

// ToneResult is the fixed-shape output of every analyzer. Score is in [0,1]
// where higher means more hostile.
type ToneResult struct {
	Tone       Tone       `json:"tone"`
	Score      float64    `json:"score"`
	Flagged    []string   `json:"flagged"`
	Suggestion string     `json:"suggestion,omitempty"`
	Source     ToneSource `json:"source"`
}

// NeedsReview reports whether the result should be surfaced to moderators.
func (r ToneResult) NeedsReview() bool {
	return r.Tone == ToneTense || r.Tone == ToneHostile
}

// ChatMessage is a co-parent or support chat message.
type ChatMessage struct {
	ID        string      `json:"id"`
	ThreadID  string      `json:"thread_id"`
	SenderID  string      `json:"sender_id"`
	Body      string      `json:"body"`
	Tone      *ToneResult `json:"tone,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ModerationFlag is published on the signal bus for tense or hostile messages.
type ModerationFlag struct {
	MessageID string     `json:"message_id,omitempty"`
	ThreadID  string     `json:"thread_id,omitempty"`
	SenderID  string     `json:"sender_id,omitempty"`
	Result    ToneResult `json:"result"`
	At        time.Time  `json:"at"`
}
