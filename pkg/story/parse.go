// Package story builds LLM prompts and turns model output into a narrated
// story plus an image prompt.
package story

import (
	"errors"
	"regexp"
	"strings"

	"storyforge/pkg/llm"
)

var (
	// ErrEmptyStory means the model output contained no story text.
	ErrEmptyStory = errors.New("story text is empty")
	// ErrNoImagePrompt means no image-prompt marker (or an empty one) was found.
	ErrNoImagePrompt = errors.New("no image prompt found in model output")
)

// ImagePromptLabel is the marker written to story text files.
const ImagePromptLabel = "Image Prompt:"

// Parsed is the result of splitting model output.
type Parsed struct {
	Story       string
	ImagePrompt string
}

var (
	markerRe = regexp.MustCompile(`(?i)^[ \t]*(#{1,6}[ \t]*)?(?:\*\*|__)?[ \t]*(\[)?[ \t]*image[ _]prompt\b[ \t]*(\])?[ \t]*(?:\*\*|__)?[ \t]*(:)?[ \t]*(?:\*\*|__)?[ \t]*(.*)$`)
	labelRe  = regexp.MustCompile(`(?i)^[ \t]*(?:\*\*|__)?[ \t]*(story|title)[ \t]*(?:\*\*|__)?[ \t]*:[ \t]*(?:\*\*|__)?[ \t]*(.*)$`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// Parse splits raw model output into story text and image prompt.
//
// A missing or empty image prompt returns the full story together with
// ErrNoImagePrompt, which callers treat as a warning. An empty story
// returns ErrEmptyStory.
func Parse(raw string) (Parsed, error) {
	text := llm.StripReasoning(raw)
	text = llm.StripCodeFences(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	storyLines := lines
	var prompt string
	found := false

	for i, line := range lines {
		rest, ok := matchMarker(line)
		if !ok {
			continue
		}
		found = true
		storyLines = lines[:i]
		prompt = collectPrompt(rest, lines[i+1:])
		break
	}

	story := cleanStory(storyLines)
	p := Parsed{Story: story, ImagePrompt: prompt}

	if story == "" {
		return p, ErrEmptyStory
	}
	if !found || prompt == "" {
		return p, ErrNoImagePrompt
	}
	return p, nil
}

// matchMarker reports whether line is an image-prompt marker and returns the
// text following it on the same line.
func matchMarker(line string) (string, bool) {
	m := markerRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	heading, open, closing, colon, rest := m[1], m[2], m[3], m[4], strings.TrimSpace(m[5])

	switch {
	case colon != "":
	case open != "" && closing != "":
	case heading != "":
	case rest == "":
		// a bare "**Image Prompt**" line followed by the prompt
	default:
		return "", false
	}
	return rest, true
}

// collectPrompt returns the prompt text of a marker. Text on the marker line
// is the whole prompt. A bare marker takes the next paragraph, up to a blank
// line or another marker.
func collectPrompt(rest string, following []string) string {
	parts := []string{}
	if rest != "" {
		parts = append(parts, rest)
	} else {
		for _, l := range following {
			if _, ok := matchMarker(l); ok {
				break
			}
			l = strings.TrimSpace(l)
			if l == "" {
				if len(parts) > 0 {
					break
				}
				continue
			}
			parts = append(parts, l)
		}
	}

	prompt := strings.Join(parts, " ")
	prompt = strings.Trim(prompt, "*_ \t")
	prompt = strings.Trim(prompt, `"'`+"`")
	return strings.TrimSpace(prompt)
}

func cleanStory(lines []string) string {
	// Drop leading blank lines and a leading Title:/Story: label.
	for len(lines) > 0 {
		first := strings.TrimSpace(lines[0])
		if first == "" {
			lines = lines[1:]
			continue
		}
		m := labelRe.FindStringSubmatch(lines[0])
		if m == nil {
			break
		}
		if strings.EqualFold(m[1], "title") || strings.TrimSpace(m[2]) == "" {
			lines = lines[1:]
			continue
		}
		lines[0] = m[2]
		break
	}

	// Drop trailing blank lines and a horizontal rule before the marker.
	for len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if last != "" && strings.Trim(last, "-*_ ") != "" {
			break
		}
		lines = lines[:len(lines)-1]
	}

	story := strings.TrimSpace(strings.Join(lines, "\n"))
	return blankRe.ReplaceAllString(story, "\n\n")
}

// FormatText renders the content of a story text file.
func FormatText(story, imagePrompt string) string {
	story = strings.TrimSpace(story)
	if imagePrompt == "" {
		return story + "\n"
	}
	return story + "\n\n" + ImagePromptLabel + " " + strings.TrimSpace(imagePrompt) + "\n"
}
