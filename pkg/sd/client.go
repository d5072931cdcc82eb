// Package sd talks to the Stable Diffusion WebUI API (AUTOMATIC1111 / Forge).
package sd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"storyforge/pkg/imageutil"
	"storyforge/pkg/request"
)

// DefaultTimeout bounds a single txt2img call.
const DefaultTimeout = 180 * time.Second

// ErrNoImage is returned when the API answered without image data.
var ErrNoImage = errors.New("sd response contained no image")

// Settings are the generation defaults applied to every request.
type Settings struct {
	Steps          int
	Sampler        string
	Width          int
	Height         int
	CFGScale       float64
	NegativePrompt string
	Styles         []string
	Timeout        time.Duration
}

// Request holds the per-image overrides chosen by the user.
type Request struct {
	Prompt         string
	NegativePrompt string // empty uses Settings.NegativePrompt
	Checkpoint     string
	VAE            string
	Styles         []string // nil uses Settings.Styles
	Lora           string   // appended to the prompt, e.g. "<lora:film:0.7>"
}

// Payload is the JSON body of POST /sdapi/v1/txt2img.
type Payload struct {
	Prompt                            string            `json:"prompt"`
	NegativePrompt                    string            `json:"negative_prompt"`
	Steps                             int               `json:"steps"`
	SamplerIndex                      string            `json:"sampler_index"`
	Width                             int               `json:"width"`
	Height                            int               `json:"height"`
	BatchSize                         int               `json:"batch_size"`
	CFGScale                          float64           `json:"cfg_scale"`
	Styles                            []string          `json:"styles"`
	OverrideSettings                  map[string]string `json:"override_settings,omitempty"`
	OverrideSettingsRestoreAfterwards bool              `json:"override_settings_restore_afterwards"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

// Client is a Stable Diffusion WebUI API client.
type Client struct {
	rc       *request.Client
	baseURL  string
	settings Settings
}

// NewClient creates a client for the WebUI at baseURL.
func NewClient(baseURL string, settings Settings, rc *request.Client) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	if settings.Styles == nil {
		settings.Styles = []string{}
	}
	rc.RegisterBackend("sd", baseURL)
	return &Client{rc: rc, baseURL: baseURL, settings: settings}
}

// BaseURL returns the configured WebUI address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BuildPayload merges a request with the client defaults.
func (c *Client) BuildPayload(req Request) Payload {
	prompt := strings.TrimSpace(req.Prompt)
	if lora := strings.TrimSpace(req.Lora); lora != "" {
		prompt += ", " + lora
	}

	neg := req.NegativePrompt
	if strings.TrimSpace(neg) == "" {
		neg = c.settings.NegativePrompt
	}

	styles := req.Styles
	if styles == nil {
		styles = c.settings.Styles
	}

	p := Payload{
		Prompt:                            prompt,
		NegativePrompt:                    neg,
		Steps:                             c.settings.Steps,
		SamplerIndex:                      c.settings.Sampler,
		Width:                             c.settings.Width,
		Height:                            c.settings.Height,
		BatchSize:                         1,
		CFGScale:                          c.settings.CFGScale,
		Styles:                            styles,
		OverrideSettingsRestoreAfterwards: true,
	}

	overrides := map[string]string{}
	if req.Checkpoint != "" {
		overrides["sd_model_checkpoint"] = req.Checkpoint
	}
	if req.VAE != "" {
		overrides["sd_vae"] = req.VAE
	}
	if len(overrides) > 0 {
		p.OverrideSettings = overrides
	}
	return p
}

// Txt2Img generates one image and returns its decoded bytes.
func (c *Client) Txt2Img(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("sd: empty prompt")
	}

	ctx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
	defer cancel()

	payload := c.BuildPayload(req)
	slog.Debug("SD: txt2img", "prompt", payload.Prompt, "checkpoint", req.Checkpoint, "vae", req.VAE)

	body, err := c.rc.PostJSON(ctx, c.baseURL+"/sdapi/v1/txt2img", payload)
	if err != nil {
		return nil, fmt.Errorf("sd txt2img: %w", err)
	}

	var resp txt2imgResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode sd response: %w", err)
	}
	if len(resp.Images) == 0 || resp.Images[0] == "" {
		return nil, ErrNoImage
	}

	data, err := DecodeImage(resp.Images[0])
	if err != nil {
		return nil, err
	}
	if _, err := imageutil.Validate(data); err != nil {
		return nil, fmt.Errorf("sd returned unusable image: %w", err)
	}
	return data, nil
}

// DecodeImage decodes a base64 image, stripping any "data:...;base64," prefix.
func DecodeImage(encoded string) ([]byte, error) {
	if i := strings.IndexByte(encoded, ','); i != -1 {
		encoded = encoded[i+1:]
	}
	encoded = strings.TrimSpace(encoded)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	return data, nil
}

// Models lists the installed checkpoints by title.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var models []struct {
		Title     string `json:"title"`
		ModelName string `json:"model_name"`
	}
	if err := c.getJSON(ctx, "/sdapi/v1/sd-models", &models); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		if m.Title != "" {
			names = append(names, m.Title)
		} else if m.ModelName != "" {
			names = append(names, m.ModelName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// VAEs lists the installed VAE files.
func (c *Client) VAEs(ctx context.Context) ([]string, error) {
	var vaes []struct {
		ModelName string `json:"model_name"`
		Filename  string `json:"filename"`
	}
	if err := c.getJSON(ctx, "/sdapi/v1/sd-vae", &vaes); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(vaes))
	for _, v := range vaes {
		if v.ModelName != "" {
			names = append(names, v.ModelName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Styles lists the saved prompt styles by name.
func (c *Client) Styles(ctx context.Context) ([]string, error) {
	var styles []struct {
		Name string `json:"name"`
	}
	if err := c.getJSON(ctx, "/sdapi/v1/prompt-styles", &styles); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(styles))
	for _, s := range styles {
		if s.Name != "" && s.Name != "None" {
			names = append(names, s.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// HealthCheck verifies the WebUI API is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.rc.Get(ctx, c.baseURL+"/sdapi/v1/sd-models"); err != nil {
		return fmt.Errorf("sd api unreachable at %s: %w", c.baseURL, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	body, err := c.rc.Get(ctx, c.baseURL+path)
	if err != nil {
		return fmt.Errorf("sd %s: %w", path, err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode sd %s: %w", path, err)
	}
	return nil
}
