package agent

import (
	"strings"
	"unicode"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

// Presets shorter than this (in words or characters) only match exactly.
const (
	presetMinWords = 2
	presetMinChars = 10
)

// NormalizeQuestion lowercases text, drops apostrophes, turns other
// punctuation into spaces and collapses whitespace.
func NormalizeQuestion(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
			sb.WriteRune(r)
		default:
			space = true
		}
	}
	return sb.String()
}

// matchPreset returns the answer of the best enabled preset for question.
// An exact normalized match wins; otherwise the longest preset contained in
// the question as whole words, provided it is long enough to be specific.
func matchPreset(presets []store.PresetQA, question string) (string, bool) {
	q := NormalizeQuestion(question)
	if q == "" {
		return "", false
	}

	best, bestLen := "", 0
	for _, p := range presets {
		if !p.Enabled || strings.TrimSpace(p.Answer) == "" {
			continue
		}
		pq := NormalizeQuestion(p.Question)
		if pq == "" {
			continue
		}
		if pq == q {
			return p.Answer, true
		}
		if len(strings.Fields(pq)) < presetMinWords || len(pq) < presetMinChars {
			continue
		}
		if containsPhrase(q, pq) && len(pq) > bestLen {
			best, bestLen = p.Answer, len(pq)
		}
	}
	return best, bestLen > 0
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
// Both arguments must already be normalized.
func containsPhrase(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
