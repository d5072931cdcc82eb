package artifacts

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxSlugLen   = 40
	fallbackSlug = "story"
	stampLayout  = "20060102-150405"
)

// Slug folds prompt to a lower-case ASCII, hyphen-separated token.
func Slug(prompt string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, prompt)
	if err != nil {
		folded = prompt
	}

	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			sb.WriteRune(r)
			dash = false
		case sb.Len() > 0 && !dash:
			sb.WriteByte('-')
			dash = true
		}
		if sb.Len() >= maxSlugLen {
			break
		}
	}

	slug := strings.Trim(sb.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// NewBaseName builds "<slug>_<yyyymmdd-hhmmss>_<job8>_<nn>" for item index
// (1-based) of a job.
func NewBaseName(prompt, jobID string, index int, now time.Time) string {
	short := strings.ReplaceAll(jobID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	if short == "" {
		short = "00000000"
	}
	return fmt.Sprintf("%s_%s_%s_%02d", Slug(prompt), now.Format(stampLayout), short, index)
}

// Title renders a human-readable label from a base name's slug part.
func Title(base string) string {
	slug := base
	if i := strings.IndexByte(base, '_'); i > 0 {
		slug = base[:i]
	}
	return cases.Title(language.English).String(strings.ReplaceAll(slug, "-", " "))
}
