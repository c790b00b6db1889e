package tone

import (
	"context"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// Score weights and tone thresholds for the keyword heuristic.
const (
	hostileWeight  = 0.25
	shoutWeight    = 0.10
	exclaimWeight  = 0.05
	positiveWeight = 0.10

	hostileThreshold = 0.6
	tenseThreshold   = 0.3

	minShoutLetters = 3
)

// hostileTerms maps words and phrases to their weight. Phrases are matched
// against the space-joined lowercase token stream.
var hostileTerms = map[string]float64{
	"hate":            1,
	"stupid":          1,
	"idiot":           2,
	"moron":           2,
	"pathetic":        1,
	"useless":         1,
	"liar":            1.5,
	"lying":           1,
	"worthless":       1.5,
	"disgusting":      1,
	"ridiculous":      0.5,
	"incompetent":     1,
	"selfish":         1,
	"lawyer":          0.5,
	"shut up":         1.5,
	"your fault":      1,
	"you always":      0.5,
	"you never":       0.5,
	"bad parent":      2,
	"terrible mother": 2,
	"terrible father": 2,
}

var positiveTerms = map[string]bool{
	"thanks":      true,
	"thank":       true,
	"appreciate":  true,
	"great":       true,
	"please":      true,
	"glad":        true,
	"happy":       true,
	"wonderful":   true,
	"sounds good": true,
	"no problem":  true,
}

var exclaimRun = regexp.MustCompile(`!{2,}`)

const (
	hostileSuggestion = "This message may come across as hostile. Try removing insults and describing the specific issue, for example: \"I'd like us to agree on a pickup time that works for both of us.\""
	tenseSuggestion   = "This message may read as tense. Consider using \"I\" statements and a calmer tone, for example: \"I was worried when pickup ran late today.\""
)

// KeywordAnalyzer scores text with word lists and punctuation heuristics.
// It has no external dependencies and never fails.
type KeywordAnalyzer struct{}

// NewKeywordAnalyzer creates a KeywordAnalyzer.
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{}
}

// Analyze implements Analyzer.
func (KeywordAnalyzer) Analyze(_ context.Context, text string) (domain.ToneResult, error) {
	res := domain.ToneResult{
		Tone:    domain.ToneNeutral,
		Flagged: []string{},
		Source:  domain.ToneSourceKeyword,
	}
	if strings.TrimSpace(text) == "" {
		return res, nil
	}

	words := tokenize(text)
	lower := make([]string, len(words))
	for i, w := range words {
		lower[i] = strings.ToLower(w)
	}

	var hostile, positive float64
	seen := map[string]bool{}
	flag := func(term string) {
		if !seen[term] {
			seen[term] = true
			res.Flagged = append(res.Flagged, term)
		}
	}

	for i := range lower {
		for _, n := range []int{1, 2} {
			if i+n > len(lower) {
				break
			}
			term := strings.Join(lower[i:i+n], " ")
			if w, ok := hostileTerms[term]; ok {
				hostile += w
				flag(term)
			}
			if positiveTerms[term] {
				positive++
			}
		}
	}

	shouted := 0
	for _, w := range words {
		if isShouted(w) {
			shouted++
			flag(w)
		}
	}

	exclaims := len(exclaimRun.FindAllString(text, -1))

	score := hostileWeight*hostile + shoutWeight*float64(shouted) +
		exclaimWeight*float64(exclaims) - positiveWeight*positive
	res.Score = math.Round(clamp01(score)*100) / 100

	switch {
	case res.Score >= hostileThreshold:
		res.Tone = domain.ToneHostile
		res.Suggestion = hostileSuggestion
	case res.Score >= tenseThreshold:
		res.Tone = domain.ToneTense
		res.Suggestion = tenseSuggestion
	case positive > 0 && res.Score == 0:
		res.Tone = domain.ToneFriendly
	}
	return res, nil
}

// tokenize splits text into words of letters and apostrophes, keeping case.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

// isShouted reports whether w is all upper case with enough letters.
func isShouted(w string) bool {
	letters := 0
	for _, r := range w {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= minShoutLetters
}
