package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"storyforge/pkg/llm"
	"storyforge/pkg/tracker"
)

const defaultModel = "gemini-2.0-flash"

// Client implements llm.Provider for Google Gemini.
type Client struct {
	genaiClient *genai.Client
	apiKey      string
	modelName   string
	tracker     *tracker.Tracker
	temperature float32

	mu sync.RWMutex
}

// NewClient creates a new Gemini client. A missing key yields a client whose
// calls fail with llm.ErrNotConfigured.
func NewClient(ctx context.Context, apiKey, model string, t *tracker.Tracker) (*Client, error) {
	c := &Client{tracker: t}
	if err := c.Configure(ctx, apiKey, model); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure updates the client with new credentials and default model.
func (c *Client) Configure(ctx context.Context, apiKey, model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiKey = apiKey
	c.modelName = model
	if c.modelName == "" {
		c.modelName = defaultModel
	}

	if c.apiKey == "" {
		c.genaiClient = nil
		return nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}
	c.genaiClient = client
	return nil
}

// SetTemperature sets the sampling temperature; zero leaves the model default.
func (c *Client) SetTemperature(t float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.temperature = t
}

// GenerateText sends a prompt and returns the text response.
func (c *Client) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()

	if client == nil {
		return "", fmt.Errorf("%w: gemini api key missing", llm.ErrNotConfigured)
	}

	modelName, cfg := c.resolveModel(model)

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), cfg)
	if err != nil {
		llm.Log("gemini", modelName, prompt, "", err)
		c.trackFailure(err)
		return "", fmt.Errorf("generate text error: %w", err)
	}

	text, err := getResponseText(resp)
	if err != nil {
		llm.Log("gemini", modelName, prompt, "", err)
		c.trackFailure(err)
		return "", err
	}

	llm.Log("gemini", modelName, prompt, text, nil)
	if strings.TrimSpace(text) == "" {
		if c.tracker != nil {
			c.tracker.TrackAPIZero("gemini")
		}
		return "", llm.ErrEmptyResponse
	}
	if c.tracker != nil {
		c.tracker.TrackAPISuccess("gemini", time.Since(start))
	}
	return text, nil
}

// Models lists the generative models available to the key.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("%w: gemini api key missing", llm.ErrNotConfigured)
	}

	page, err := client.Models.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list gemini models: %w", err)
	}

	var names []string
	for {
		m, err := page.Next(ctx)
		if errors.Is(err, iterator.Done) || errors.Is(err, genai.ErrPageDone) {
			break
		}
		if err != nil {
			return names, fmt.Errorf("failed to list gemini models: %w", err)
		}
		if strings.Contains(strings.ToLower(m.Name), "gemini") {
			names = append(names, strings.TrimPrefix(m.Name, "models/"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// HealthCheck verifies the configured model is visible to the key.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.genaiClient
	name := c.modelName
	c.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("%w: gemini api key missing", llm.ErrNotConfigured)
	}
	if !strings.HasPrefix(name, "models/") {
		name = "models/" + name
	}
	if _, err := client.Models.Get(ctx, name, nil); err != nil {
		slog.Warn("Gemini model validation failed", "model", name, "error", err)
		return fmt.Errorf("gemini model %s unavailable: %w", name, err)
	}
	return nil
}

func (c *Client) trackFailure(err error) {
	if c.tracker != nil {
		c.tracker.TrackAPIFailure("gemini", err)
	}
}

func getResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", fmt.Errorf("candidate has no content (finish reason %s)", cand.FinishReason)
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}
