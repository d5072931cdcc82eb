package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"storyforge/pkg/llm"
	"storyforge/pkg/tracker"
	"storyforge/pkg/version"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.openai.com/v1"

// Client implements llm.Provider for any OpenAI-compatible chat completions API.
type Client struct {
	client       openai.Client
	baseURL      string
	apiKey       string
	defaultModel string
	models       []string
	tracker      *tracker.Tracker
	label        string

	temperature float32

	mu sync.RWMutex
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	// Models overrides discovery via /models, for servers that do not implement it.
	Models     []string
	Retries    int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(opts Options, t *tracker.Tracker) (*Client, error) {
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.APIKey == "" && baseURL == DefaultBaseURL {
		return nil, fmt.Errorf("%w: openai api key missing", llm.ErrNotConfigured)
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(baseURL + "/"),
		option.WithMaxRetries(opts.Retries),
		option.WithHeader("User-Agent", version.UserAgent()),
	}
	// Local servers (llama.cpp, vLLM, LM Studio) accept any key
	key := opts.APIKey
	if key == "" {
		key = "none"
	}
	reqOpts = append(reqOpts, option.WithAPIKey(key))
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Client{
		client:       openai.NewClient(reqOpts...),
		baseURL:      baseURL,
		apiKey:       opts.APIKey,
		defaultModel: opts.DefaultModel,
		models:       append([]string(nil), opts.Models...),
		tracker:      t,
		label:        labelFor(baseURL),
	}, nil
}

// SetTemperature sets the sampling temperature; zero leaves the server default.
func (c *Client) SetTemperature(t float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.temperature = t
}

// GenerateText sends a single user message and returns the first choice.
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

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if temp > 0 {
		params.Temperature = openai.Float(float64(temp))
	}

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		llm.Log(c.label, model, prompt, "", err)
		c.trackFailure(err)
		return "", fmt.Errorf("%s chat completion failed: %w", c.label, describeError(err))
	}

	if len(completion.Choices) == 0 {
		llm.Log(c.label, model, prompt, "", llm.ErrEmptyResponse)
		c.trackZero()
		return "", llm.ErrEmptyResponse
	}

	content := completion.Choices[0].Message.Content
	llm.Log(c.label, model, prompt, content, nil)
	if strings.TrimSpace(content) == "" {
		c.trackZero()
		return "", llm.ErrEmptyResponse
	}
	if c.tracker != nil {
		c.tracker.TrackAPISuccess(c.label, time.Since(start))
	}
	return content, nil
}

// Models returns the configured model list or, if none, what /models reports.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	if len(c.models) > 0 {
		out := append([]string(nil), c.models...)
		sort.Strings(out)
		return out, nil
	}

	var names []string
	iter := c.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		names = append(names, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s models: %w", c.label, describeError(err))
	}
	sort.Strings(names)
	return names, nil
}

// HealthCheck lists models as a cheap authenticated round-trip.
func (c *Client) HealthCheck(ctx context.Context) error {
	if len(c.models) > 0 && c.apiKey == "" {
		return nil
	}
	if _, err := c.Models(ctx); err != nil {
		return fmt.Errorf("%s unreachable at %s: %w", c.label, c.baseURL, err)
	}
	return nil
}

func (c *Client) trackFailure(err error) {
	if c.tracker != nil {
		c.tracker.TrackAPIFailure(c.label, err)
	}
}

func (c *Client) trackZero() {
	if c.tracker != nil {
		c.tracker.TrackAPIZero(c.label)
	}
}

// describeError shortens SDK errors to the status and message.
func describeError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return fmt.Errorf("status %d: %s: %w", apiErr.StatusCode, msg, err)
	}
	return err
}

func labelFor(baseURL string) string {
	if baseURL == DefaultBaseURL {
		return "openai"
	}
	return "openai-compat"
}
