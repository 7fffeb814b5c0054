package agent

import (
	"strings"
	"unicode"
)

// Classifier decides cheaply whether a message deserves attention.
type Classifier interface {
	// LooksLikeQuestion reports whether text reads as a question or support request.
	LooksLikeQuestion(text string) bool
	// MentionsBot reports whether text addresses the bot directly.
	MentionsBot(text string) bool
}

// interrogatives open a question when they are the first word.
// Contractions are matched with the apostrophe removed.
var interrogatives = map[string]bool{
	"what": true, "whats": true, "how": true, "hows": true, "why": true,
	"when": true, "whens": true, "where": true, "wheres": true, "who": true,
	"whos": true, "whom": true, "which": true, "whose": true,
	"can": true, "cant": true, "could": true, "would": true, "should": true,
	"is": true, "isnt": true, "are": true, "arent": true, "am": true,
	"do": true, "does": true, "doesnt": true, "did": true, "didnt": true, "dont": true,
	"will": true, "wont": true, "has": true, "have": true, "any": true, "anyone": true,
	"anybody": true, "help": true,
}

// HeuristicClassifier is the default Classifier: a question mark or a leading
// interrogative word marks a question; "@username" or the bot's user id marks
// a mention.
type HeuristicClassifier struct {
	BotUserID   string
	BotUsername string
}

func (h HeuristicClassifier) LooksLikeQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if strings.ContainsRune(text, '?') {
		return true
	}
	first := firstWord(text)
	return interrogatives[first]
}

func (h HeuristicClassifier) MentionsBot(text string) bool {
	if h.BotUserID != "" && strings.Contains(text, h.BotUserID) {
		return true
	}
	if h.BotUsername == "" {
		return false
	}
	handle := "@" + strings.ToLower(strings.TrimPrefix(h.BotUsername, "@"))
	lower := strings.ToLower(text)
	for i := 0; ; {
		idx := strings.Index(lower[i:], handle)
		if idx < 0 {
			return false
		}
		end := i + idx + len(handle)
		if end == len(lower) || !isHandleRune(rune(lower[end])) {
			return true
		}
		i = end
	}
}

// firstWord returns the lowercased first word with apostrophes and
// punctuation removed.
func firstWord(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) || r == ',' || r == ':' {
			if sb.Len() > 0 {
				break
			}
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isHandleRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}
