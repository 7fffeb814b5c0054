package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// SanitizeAnswer cleans model output before it is posted to a chat feed:
//
//  1. strip reasoning tags (<think>, <thinking>, <thought>)
//  2. strip echoed prompt section headings ("## Knowledge base", ...)
//  3. collapse repeated paragraphs
//  4. strip leading blank lines and surrounding quotes
//
// It returns "" when nothing postable is left.
func SanitizeAnswer(content string) string {
	if content == "" {
		return content
	}
	original := content

	content = stripThinkingTags(content)
	content = stripEchoedHeadings(content)
	content = collapseConsecutiveDuplicateBlocks(content)
	content = leadingBlankLinesPattern.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)
	content = strings.Trim(content, "\"“”")
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("sanitized answer", "original_len", len(original), "cleaned_len", len(content))
	}
	return content
}

// Go regexp has no backreferences, so each tag gets its own pattern.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

var echoedHeadings = []string{
	"## knowledge base",
	"## community instructions",
	"## recent conversation",
	"rules:",
}

// stripEchoedHeadings drops everything from the first echoed prompt heading on.
func stripEchoedHeadings(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.ToLower(strings.TrimSpace(line))
		for _, h := range echoedHeadings {
			if trimmed == h {
				slog.Warn("answer echoed the prompt, truncating", "line", i)
				return strings.TrimSpace(strings.Join(lines[:i], "\n"))
			}
		}
	}
	return content
}

func collapseConsecutiveDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var result []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(result) > 0 && trimmed == strings.TrimSpace(result[len(result)-1]) {
			continue
		}
		result = append(result, block)
	}
	return strings.Join(result, "\n\n")
}

var leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)

// refusalPhrases mark answers the bot should not post. Silence beats a
// visible non-answer in a community chat.
var refusalPhrases = []string{
	"sorry",
	"apolog",
	"can't help",
	"cannot help",
	"can not help",
	"unable to help",
	"not able to help",
	"not related to",
	"i'm unable",
	"i am unable",
	"i don't have information",
	"i do not have information",
	"i don't have any information",
	"i don't know",
	"i'm not sure",
	"as an ai",
	"no information about",
	"not mentioned in",
	"knowledge base does not",
}

// IsRefusal reports whether an answer is a refusal, apology or "don't know".
func IsRefusal(text string) bool {
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	if strings.Contains(lower, strings.ToLower(noAnswerToken)) {
		return true
	}
	for _, p := range refusalPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
