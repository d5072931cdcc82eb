package llm

import (
	"regexp"
	"strings"
)

// WordWrap wraps text at the specified width.
func WordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	var result strings.Builder
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		currentLineLength := 0
		for j, word := range words {
			if j > 0 {
				if currentLineLength+len(word)+1 > width {
					result.WriteString("\n")
					currentLineLength = 0
				} else {
					result.WriteString(" ")
					currentLineLength++
				}
			}
			result.WriteString(word)
			currentLineLength += len(word)
		}
	}

	return result.String()
}

var reasoningBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)

// StripReasoning removes <think>...</think> blocks emitted by reasoning models.
// An unterminated block swallows the rest of the text.
func StripReasoning(text string) string {
	text = reasoningBlock.ReplaceAllString(text, "")
	if i := strings.Index(strings.ToLower(text), "<think>"); i != -1 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// StripCodeFences removes a surrounding markdown code block if present.
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// Drop the language tag line, e.g. ```text
	if nl := strings.IndexByte(text, '\n'); nl != -1 && !strings.ContainsAny(text[:nl], " \t") {
		text = text[nl+1:]
	}
	if end := strings.LastIndex(text, "```"); end != -1 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
