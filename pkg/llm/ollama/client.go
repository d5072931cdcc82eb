package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"storyforge/pkg/llm"
	"storyforge/pkg/request"
)

// Client implements llm.Provider against Ollama's native HTTP API.
type Client struct {
	rc           *request.Client
	baseURL      string
	defaultModel string
	temperature  float32

	mu sync.RWMutex
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
		Size  int64  `json:"size"`
	} `json:"models"`
}

// NewClient creates a client for the Ollama server at baseURL.
func NewClient(baseURL, defaultModel string, rc *request.Client) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: ollama url is empty", llm.ErrNotConfigured)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	rc.RegisterBackend("ollama", baseURL)
	return &Client{
		rc:           rc,
		baseURL:      baseURL,
		defaultModel: defaultModel,
	}, nil
}

// SetTemperature sets the sampling temperature; zero leaves the model default.
func (c *Client) SetTemperature(t float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.temperature = t
}

// GenerateText implements llm.Provider using a non-streaming /api/generate call.
func (c *Client) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	c.mu.RLock()
	if model == "" {
		model = c.defaultModel
	}
	temp := c.temperature
	c.mu.RUnlock()

	if model == "" {
		return "", fmt.Errorf("%w: no model selected", llm.ErrNotConfigured)
	}

	req := generateRequest{Model: model, Prompt: prompt}
	if temp > 0 {
		req.Options = map[string]any{"temperature": temp}
	}

	body, err := c.rc.PostJSON(ctx, c.baseURL+"/api/generate", req)
	if err != nil {
		llm.Log("ollama", model, prompt, "", err)
		return "", fmt.Errorf("ollama generate: %w", err)
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		llm.Log("ollama", model, prompt, "", err)
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if resp.Error != "" {
		err := fmt.Errorf("ollama: %s", resp.Error)
		llm.Log("ollama", model, prompt, "", err)
		return "", err
	}

	llm.Log("ollama", model, prompt, resp.Response, nil)
	if strings.TrimSpace(resp.Response) == "" {
		return "", llm.ErrEmptyResponse
	}
	return resp.Response, nil
}

// Models returns the locally installed models, sorted by name.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	body, err := c.rc.Get(ctx, c.baseURL+"/api/tags")
	if err != nil {
		return nil, fmt.Errorf("ollama tags: %w", err)
	}

	var resp tagsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode ollama tags: %w", err)
	}

	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// HealthCheck pings /api/version.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.rc.Get(ctx, c.baseURL+"/api/version"); err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", c.baseURL, err)
	}
	return nil
}
