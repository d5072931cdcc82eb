package story

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path"
	"strings"
	"text/template"

	"storyforge/pkg/model"
)

//go:embed templates
var embedded embed.FS

// Default word range requested from the model.
const (
	DefaultMinWords = 250
	DefaultMaxWords = 450
)

// PromptData is passed to the story and conversation templates.
type PromptData struct {
	Prompt    string
	Character string
	Persona   string
	MinWords  int
	MaxWords  int
}

// Manager handles loading and rendering of prompt templates.
type Manager struct {
	root *template.Template
}

// NewManager loads the built-in templates. If dir is non-empty, templates
// found there override built-ins of the same name.
func NewManager(dir string) (*Manager, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	m := &Manager{}
	m.root = template.New("root").Funcs(template.FuncMap{
		"maybe": maybeFunc,
		"pick":  pickFunc,
	})

	if err := m.load(sub); err != nil {
		return nil, fmt.Errorf("loading built-in templates: %w", err)
	}
	if dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("prompt dir: %w", err)
		}
		if err := m.load(os.DirFS(dir)); err != nil {
			return nil, fmt.Errorf("loading templates from %s: %w", dir, err)
		}
	}
	return m, nil
}

// load parses every .tmpl under fsys. Files under common/ only contribute
// their {{define}} blocks.
func (m *Manager) load(fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".tmpl" {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}

		name := p
		if strings.HasPrefix(p, "common/") {
			_, err = m.root.Parse(string(content))
		} else {
			_, err = m.root.New(name).Parse(string(content))
		}
		if err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		return nil
	})
}

// Render executes the named template with the provided data.
func (m *Manager) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.root.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// Build renders the LLM prompt for one item of a job.
func (m *Manager) Build(mode model.Mode, prompt, character, persona string) (string, error) {
	data := PromptData{
		Prompt:   strings.TrimSpace(prompt),
		MinWords: DefaultMinWords,
		MaxWords: DefaultMaxWords,
	}

	switch mode {
	case model.ModeConversation:
		if character == "" {
			return "", fmt.Errorf("conversation mode requires a character")
		}
		data.Character = character
		data.Persona = persona
		return m.Render("conversation.tmpl", data)
	case model.ModeStory, "":
		return m.Render("story.tmpl", data)
	default:
		return "", fmt.Errorf("unknown mode %q", mode)
	}
}

// RandomPrompt returns a randomly assembled story topic.
func (m *Manager) RandomPrompt() string {
	out, err := m.Render("random.tmpl", nil)
	if err != nil {
		return "A short story about an unexpected friendship."
	}
	return out
}

// maybeFunc includes content with a given probability (0-100).
// Usage: {{maybe 50 "This text appears 50% of the time"}}
func maybeFunc(percent int, content string) string {
	if percent <= 0 {
		return ""
	}
	if percent >= 100 {
		return content
	}
	if rand.Intn(100) < percent {
		return content
	}
	return ""
}

// pickFunc selects one random option from a list separated by "|||".
// Usage: {{pick "Option A|||Option B|||Option C"}}
func pickFunc(options string) string {
	parts := strings.Split(options, "|||")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts[rand.Intn(len(parts))]
}
